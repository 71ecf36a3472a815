package models

// Side identifies which input supplied the surviving value.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
	SideMerged Side = "merged" // both sides contributed fields
)

// ConflictReason explains why a particular side won a field.
type ConflictReason string

const (
	// ReasonStatusPrecedence: the per-type status ranking decided.
	ReasonStatusPrecedence ConflictReason = "status_precedence"
	// ReasonLastWriterWins: overlapping edit resolved by updatedAt,
	// ties broken by actor id.
	ReasonLastWriterWins ConflictReason = "last_writer_wins"
	// ReasonServerAuthoritative: the field is declared server-owned;
	// the remote value always wins.
	ReasonServerAuthoritative ConflictReason = "server_authoritative"
	// ReasonTombstone: a deletion superseded a concurrent edit.
	ReasonTombstone ConflictReason = "tombstone"
)

// FieldOutcome records the resolution of a single contested field. The
// losing value is retained so the host can audit or notify; nothing is
// silently dropped.
type FieldOutcome struct {
	Discarded any            `json:"discarded,omitempty"`
	Field     string         `json:"field"`
	Winner    Side           `json:"winner"`
	Reason    ConflictReason `json:"reason"`
}

// ConflictReport describes how a divergence between a local and a remote
// record was resolved. An empty report means the records merged without
// any contested field.
type ConflictReport struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Winner     Side           `json:"winner"`
	Outcomes   []FieldOutcome `json:"outcomes,omitempty"`
	// RequiresDisclosure is set when the resolution silently discarded
	// a local edit the user may still believe took effect (e.g. an
	// event moved on the server while this device was offline).
	RequiresDisclosure bool `json:"requires_disclosure"`
}

// Empty reports whether the resolution involved no contested fields.
func (r *ConflictReport) Empty() bool {
	return len(r.Outcomes) == 0 && !r.RequiresDisclosure
}
