// Package models holds the data types shared across the mempool signal
// engine: decoded events, resolved transactions, scoring output, and the
// persisted signal projection.
package models

import "time"

// RemovalReason explains why a tx left the mempool.
type RemovalReason int

const (
	RemovalUnknown RemovalReason = iota
	RemovalConfirmed
	RemovalReplaced
	RemovalEvicted
	RemovalConflict
)

func (r RemovalReason) String() string {
	switch r {
	case RemovalConfirmed:
		return "confirmed"
	case RemovalReplaced:
		return "replaced"
	case RemovalEvicted:
		return "evicted"
	case RemovalConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// MempoolEvent is the normalized output of the event ingestor. Exactly one
// of the concrete types below is carried per event.
type MempoolEvent interface {
	isMempoolEvent()
}

// TxAddedEvent carries a raw serialized transaction observed on the
// rawtx topic.
type TxAddedEvent struct {
	Txid string
	Raw  []byte
}

// TxRemovedEvent signals a tx has left the mempool.
type TxRemovedEvent struct {
	Txid   string
	Reason RemovalReason
}

// BlockConnectedEvent signals a new block. Height is 0 when the source
// topic (hashblock) carries no height information.
type BlockConnectedEvent struct {
	BlockHash string
	Height    uint32
}

// BlockDisconnectedEvent signals a reorg.
type BlockDisconnectedEvent struct {
	BlockHash string
	Height    uint32
}

func (TxAddedEvent) isMempoolEvent()           {}
func (TxRemovedEvent) isMempoolEvent()         {}
func (BlockConnectedEvent) isMempoolEvent()    {}
func (BlockDisconnectedEvent) isMempoolEvent() {}

// TxIn is a consensus-decoded transaction input.
type TxIn struct {
	PrevTxid string
	PrevVout uint32
	Sequence uint32
	Witness  [][]byte
}

// TxOut is a consensus-decoded transaction output.
type TxOut struct {
	ValueSats int64
	Script    []byte
}

// IsRBF reports whether this input's sequence number signals BIP125
// replace-by-fee: any sequence strictly less than 0xFFFFFFFE.
func (i TxIn) IsRBF() bool {
	return i.Sequence < 0xFFFFFFFE
}

// IsCoinbase reports whether this input has the null previous outpoint.
func (i TxIn) IsCoinbase() bool {
	return i.PrevVout == 0xFFFFFFFF && isZeroTxid(i.PrevTxid)
}

func isZeroTxid(txid string) bool {
	if len(txid) != 64 {
		return false
	}
	for _, c := range txid {
		if c != '0' {
			return false
		}
	}
	return true
}

// ParsedTx is a bitcoin consensus-decoded transaction prior to
// enrichment.
type ParsedTx struct {
	Txid     string
	Version  int32
	LockTime uint32
	Inputs   []TxIn
	Outputs  []TxOut
	Weight   int
	Vsize    int
	RawSize  int
}

// HasRBFSignal reports whether any input signals replace-by-fee.
func (p ParsedTx) HasRBFSignal() bool {
	for _, in := range p.Inputs {
		if in.IsRBF() {
			return true
		}
	}
	return false
}

// Prevout is a resolved prior output, keyed by (txid, vout). Immutable
// once written; no TTL.
type Prevout struct {
	ValueSats   int64
	ScriptType  string
	BlockHeight uint32
	BlockTime   int64
}

// CoinJoinPattern names the detected CoinJoin shape.
type CoinJoinPattern string

const (
	PatternNone           CoinJoinPattern = "none"
	PatternWhirlpoolPool  CoinJoinPattern = "whirlpool_pool"
	PatternWasabiLike     CoinJoinPattern = "wasabi_like"
	PatternEqualOutput    CoinJoinPattern = "equal_output"
	PatternUnknown        CoinJoinPattern = "unknown"
)

// CoinJoinResult is the pure-function output of the CoinJoin detector.
type CoinJoinResult struct {
	IsCoinJoin bool
	Confidence float64
	Pattern    CoinJoinPattern
}

// AnalyzedTx is a ParsedTx joined with prevout resolution, tag-index, and
// CoinJoin results.
type AnalyzedTx struct {
	Txid             string
	RawSize          int
	Vsize            int
	TotalInputValue  int64
	TotalOutputValue int64
	Fee              int64
	FeeRate          float64 // sat/vB
	InputCount       int
	OutputCount      int
	OldestInputHeight uint32
	OldestInputTime  int64 // unix seconds, 0 if unresolved
	CoinDaysDestroyed *float64
	IsRBFSignaling   bool
	ToExchange       bool
	ToExchangeConf   float64
	FromExchange     bool
	FromExchangeConf float64
	IsCoinJoin       bool
	CoinJoinConf     float64
	CoinJoinPattern  CoinJoinPattern
	PrevoutsResolved bool
	SeenAt           time.Time

	// InputAddresses, when non-empty, holds addresses decoded from
	// resolved prevout scripts, aligned by input index (empty string
	// where decode failed or the prevout was unresolved). The pipeline
	// leaves it empty: the prevout resolver keeps only each prevout's
	// script type, not its script, so no input address is available.
	InputAddresses []string
	// OutputAddresses mirrors decoded output addresses, aligned by
	// output index.
	OutputAddresses []string
}

// TxState is the lifecycle state of a mempool entry.
type TxState int

const (
	StatePending TxState = iota
	StateConfirmed
	StateReplaced
	StateEvicted
)

func (s TxState) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StateReplaced:
		return "replaced"
	case StateEvicted:
		return "evicted"
	default:
		return "pending"
	}
}

// MempoolEntry is a tracked tx plus its lifecycle state.
type MempoolEntry struct {
	Tx              AnalyzedTx
	State           TxState
	StateChangedAt  time.Time
	ReplacedBy      string
}

// AddressTag is an entity label attached to an address. Confidence is
// monotone non-decreasing in the persistent store: updates with lower
// confidence are silently dropped.
type AddressTag struct {
	Address    string
	Entity     string
	EntityType string
	Confidence float64
	Source     string
	UpdatedAt  time.Time
}

// FlowDirection describes which side of a tx match an address was found on.
type FlowDirection int

const (
	FlowToExchange FlowDirection = iota
	FlowFromExchange
)

// TagMatch is a hit from checking tx inputs/outputs against the tag index.
type TagMatch struct {
	Address   string
	Tag       AddressTag
	Direction FlowDirection
}

// RuleScore is a single rule's contribution to a composite score.
type RuleScore struct {
	RuleName      string
	RawValue      float64
	Weight        float64
	WeightedScore float64
}

// AlertLevel classifies a ScoredTx by composite score.
type AlertLevel string

const (
	AlertLow      AlertLevel = "low"
	AlertMedium   AlertLevel = "medium"
	AlertHigh     AlertLevel = "high"
	AlertCritical AlertLevel = "critical"
)

// ScoredTx is an AnalyzedTx plus its scoring result.
type ScoredTx struct {
	Tx             AnalyzedTx
	CompositeScore float64
	RuleScores     []RuleScore
	AlertLevel     AlertLevel
}

// SignalRecord is the persisted projection of a ScoredTx.
type SignalRecord struct {
	ID                int64
	Txid              string
	Score             float64
	AlertLevel        AlertLevel
	RuleScoresJSON    []byte
	ToExchange        bool
	TotalInputValue   int64
	FeeRate           float64
	CoinDaysDestroyed *float64
	BlockHeightSeen   uint32
	CreatedAt         time.Time
}

// MempoolStats is the periodic snapshot emitted to sinks.
type MempoolStats struct {
	PendingCount  int
	TotalVsize    int
	TotalFees     int64
	FeeHistogram  []FeeBucket
}

// FeeBucket is one labeled range of the fee-rate histogram.
type FeeBucket struct {
	Label string
	Count int
}

// PipelineOutput is the one-way message stream emitted to presentation
// and notification sinks.
type PipelineOutput interface {
	isPipelineOutput()
}

type NewTxOutput struct {
	Scored ScoredTx
}

type BlockConnectedOutput struct {
	Height uint32
}

type MempoolStatsOutput struct {
	Stats MempoolStats
}

func (NewTxOutput) isPipelineOutput()          {}
func (BlockConnectedOutput) isPipelineOutput() {}
func (MempoolStatsOutput) isPipelineOutput()   {}
