package recoverydb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDB_RecordAndBySessionOrdering(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "recovery.db"))
	require.NoError(t, err)
	defer db.Close()

	base := time.Now()
	require.NoError(t, db.Record(RecoveryEvent{
		Session: "sess-1", Component: "pipeline", FromState: "RUNNING", ToState: "ERROR",
		Cause: "critical_error", Severity: "critical", Timestamp: base,
	}))
	require.NoError(t, db.Record(RecoveryEvent{
		Session: "sess-1", Component: "pipeline", FromState: "ERROR", ToState: "INITIATING_CLEANUP",
		Cause: "shutdown_requested", Severity: "info", Timestamp: base.Add(time.Second),
	}))
	require.NoError(t, db.Record(RecoveryEvent{
		Session: "sess-2", Component: "pipeline", FromState: "RUNNING", ToState: "ERROR",
		Cause: "other_session", Severity: "critical", Timestamp: base,
	}))

	events, err := db.BySession("sess-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "critical_error", events[0].Cause)
	require.Equal(t, "shutdown_requested", events[1].Cause)
}
