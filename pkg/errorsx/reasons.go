package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonStoreEvent  ReasonCode = "store_event"
	ReasonStoreState  ReasonCode = "store_state"
	ReasonStoreStatus ReasonCode = "store_status"

	ReasonNotifySend ReasonCode = "notify_send"

	ReasonProviderGather   ReasonCode = "provider_gather"
	ReasonProviderNotReady ReasonCode = "provider_not_ready"
	ReasonProviderHangup   ReasonCode = "provider_hangup"
	ReasonProviderDial     ReasonCode = "provider_dial"

	ReasonReplySend ReasonCode = "reply_send"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"

	ReasonPlanLocked ReasonCode = "plan_profile_locked"
	ReasonPlanEmpty  ReasonCode = "plan_empty"
)
