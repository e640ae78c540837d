package envelope

// Topic conventions used on the broker. Wildcard subscriptions use the
// broker's multi-level wildcard.
const (
	TopicFactsPrefix        = "hsp.knowledge.facts"
	TopicOpinionsPrefix     = "hsp.knowledge.opinions"
	TopicCapabilitiesPrefix = "hsp.capabilities.advertisements"
	TopicResultsPrefix      = "hsp.results"
	TopicAcksPrefix         = "hsp.acks"
	TopicRequestsPrefix     = "hsp.requests"
)

// FactTopic returns the publish topic for facts from the given agent.
func FactTopic(aiID string) string {
	return TopicFactsPrefix + "." + aiID
}

// OpinionTopic returns the publish topic for opinions from the given agent.
func OpinionTopic(aiID string) string {
	return TopicOpinionsPrefix + "." + aiID
}

// CapabilityTopic returns the advertisement topic for the given agent.
func CapabilityTopic(aiID string) string {
	return TopicCapabilitiesPrefix + "." + aiID
}

// RequestTopic returns the task-request topic addressed to the given agent.
func RequestTopic(aiID string) string {
	return TopicRequestsPrefix + "." + aiID
}

// ResultTopic returns the task-result topic addressed to the given agent.
func ResultTopic(aiID string) string {
	return TopicResultsPrefix + "." + aiID
}

// AckTopic returns the acknowledgement topic for the given agent.
func AckTopic(aiID string) string {
	return TopicAcksPrefix + "." + aiID
}

// TopicFor returns the conventional publish topic for an envelope based on
// its message type and recipient.
func TopicFor(e *Envelope) string {
	switch e.MessageType {
	case TypeFact:
		return FactTopic(e.SenderID)
	case TypeOpinion:
		return OpinionTopic(e.SenderID)
	case TypeCapabilityAdvertisement:
		return CapabilityTopic(e.SenderID)
	case TypeTaskRequest:
		return RequestTopic(e.RecipientID)
	case TypeTaskResult:
		return ResultTopic(e.RecipientID)
	case TypeAcknowledgement:
		return AckTopic(e.RecipientID)
	default:
		return ""
	}
}
