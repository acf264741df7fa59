package cache

// Kind names an entity class whose mutation invalidates cached data
type Kind string

const (
	KindVideo         Kind = "video"
	KindCreator       Kind = "creator"
	KindStudent       Kind = "student"
	KindMembership    Kind = "membership"
	KindChatSession   Kind = "chat_session"
	KindQuiz          Kind = "quiz"
	KindTranscript    Kind = "transcript"
	KindFeatureAccess Kind = "feature_access"
	KindAnalytics     Kind = "analytics"
	KindUsage         Kind = "usage"
	KindCostLimit     Kind = "cost_limit"
	KindEmbedding     Kind = "embedding"
	KindRateLimit     Kind = "rate_limit"
)

// Related ID keys carried by Event.RelatedIDs and Operation.Metadata
const (
	RelatedCreator = "creator_id"
	RelatedStudent = "student_id"
	RelatedVideo   = "video_id"
)

// Event describes a mutation of one entity. It is never persisted.
type Event struct {
	Kind       Kind
	EntityID   string
	RelatedIDs map[string]string
}

// Related returns a related ID or "" when absent
func (e Event) Related(name string) string {
	if e.RelatedIDs == nil {
		return ""
	}
	return e.RelatedIDs[name]
}

// Operation is one entry of a bulk invalidation request
type Operation struct {
	Type     Kind
	ID       string
	Metadata map[string]string
}

// Event converts the operation into an invalidation event
func (o Operation) Event() Event {
	return Event{Kind: o.Type, EntityID: o.ID, RelatedIDs: o.Metadata}
}
