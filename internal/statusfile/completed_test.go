package statusfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
)

func TestCompletedLogCapsAtCapacityDroppingOldest(t *testing.T) {
	log := NewCompletedLog(2)
	log.Append(contracts.CompletedRecord{DisplayNumber: 1})
	log.Append(contracts.CompletedRecord{DisplayNumber: 2})
	log.Append(contracts.CompletedRecord{DisplayNumber: 3})

	snapshot := log.Snapshot()

	require.Len(t, snapshot, 2)
	require.Equal(t, 2, snapshot[0].DisplayNumber)
	require.Equal(t, 3, snapshot[1].DisplayNumber)
}

func TestCompletedLogDefaultsCapacityToTen(t *testing.T) {
	log := NewCompletedLog(0)
	for i := 0; i < 15; i++ {
		log.Append(contracts.CompletedRecord{DisplayNumber: i})
	}
	require.Len(t, log.Snapshot(), 10)
}
