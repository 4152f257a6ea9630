package gwmetrics

// Pre-defined metrics for the rollup core. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- PSC (produce-submit-confirm) metrics ----

	// LastValid tracks the last-valid watermark block number.
	LastValid = DefaultRegistry.Gauge("psc.last_valid")
	// LastSubmitted tracks the last-submitted watermark block number.
	LastSubmitted = DefaultRegistry.Gauge("psc.last_submitted")
	// LastConfirmed tracks the last-confirmed watermark block number.
	LastConfirmed = DefaultRegistry.Gauge("psc.last_confirmed")
	// LocalQueueDepth tracks how many produced blocks await submission.
	LocalQueueDepth = DefaultRegistry.Gauge("psc.local_queue_depth")
	// InFlightSubmissions tracks how many submission transactions are
	// outstanding on L1.
	InFlightSubmissions = DefaultRegistry.Gauge("psc.in_flight_submissions")
	// BlocksProduced counts blocks successfully produced.
	BlocksProduced = DefaultRegistry.Counter("psc.blocks_produced")
	// BlocksConfirmed counts blocks whose submission transaction was
	// observed committed on L1.
	BlocksConfirmed = DefaultRegistry.Counter("psc.blocks_confirmed")
	// BlocksRejected counts blocks whose submission transaction was
	// observed rejected on L1.
	BlocksRejected = DefaultRegistry.Counter("psc.blocks_rejected")
	// SubmitErrors counts transient submit failures.
	SubmitErrors = DefaultRegistry.Counter("psc.submit_errors")
	// Resends counts resend-on-null-status attempts.
	Resends = DefaultRegistry.Counter("psc.resends")
	// ConfirmLatency records block-confirmation latency in milliseconds.
	ConfirmLatency = DefaultRegistry.Histogram("psc.confirm_latency_ms")

	// ---- Mem-pool / fee queue metrics ----

	// FeeQueueDepth tracks the number of live entries in the admission
	// queue.
	FeeQueueDepth = DefaultRegistry.Gauge("feequeue.depth")
	// FeeQueueAdmitted counts entries admitted (inserted or replaced).
	FeeQueueAdmitted = DefaultRegistry.Counter("feequeue.admitted")
	// FeeQueueEvicted counts entries evicted by capacity pressure.
	FeeQueueEvicted = DefaultRegistry.Counter("feequeue.evicted")
	// FeeQueueFetched counts entries handed to the producer for
	// inclusion in a block.
	FeeQueueFetched = DefaultRegistry.Counter("feequeue.fetched")

	// ---- Custodian / withdrawal metrics ----

	// CustodianCollectFailures counts collector runs that could not
	// satisfy a requirement within the max-cells cap.
	CustodianCollectFailures = DefaultRegistry.Counter("custodian.collect_failures")
	// WithdrawalsPacked counts withdrawal requests successfully packed
	// into custodian change cells.
	WithdrawalsPacked = DefaultRegistry.Counter("custodian.withdrawals_packed")

	// ---- Store metrics ----

	// StoreTransactions counts committed store transactions.
	StoreTransactions = DefaultRegistry.Counter("store.transactions_committed")
	// StoreCommitLatency records commit latency in milliseconds.
	StoreCommitLatency = DefaultRegistry.Histogram("store.commit_latency_ms")
)
