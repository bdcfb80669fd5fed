package metrics

import "expvar"

var (
	RPCCalls             = expvar.NewInt("rpc_calls")
	RPCErrors            = expvar.NewInt("rpc_errors")
	Submissions          = expvar.NewInt("submissions")
	SubmissionErrors     = expvar.NewInt("submission_errors")
	SimulatedSubmissions = expvar.NewInt("simulated_submissions")
	SoftFailures         = expvar.NewInt("soft_failures")
	WalletConnects       = expvar.NewInt("wallet_connects")
	ActivitySnapshots    = expvar.NewInt("activity_snapshots")
)

// Snapshot 当前计数，用于 /api/status 展示
func Snapshot() map[string]int64 {
	return map[string]int64{
		"rpc_calls":             RPCCalls.Value(),
		"rpc_errors":            RPCErrors.Value(),
		"submissions":           Submissions.Value(),
		"submission_errors":     SubmissionErrors.Value(),
		"simulated_submissions": SimulatedSubmissions.Value(),
		"soft_failures":         SoftFailures.Value(),
		"wallet_connects":       WalletConnects.Value(),
		"activity_snapshots":    ActivitySnapshots.Value(),
	}
}
