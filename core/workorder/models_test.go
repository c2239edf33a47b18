package workorder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/fieldops/core/workorder"
)

func TestCanTransition(t *testing.T) {
	statuses := []workorder.Status{
		workorder.StatusNew,
		workorder.StatusScheduled,
		workorder.StatusInProgress,
		workorder.StatusOnHold,
		workorder.StatusCompleted,
		workorder.StatusCancelled,
	}
	type pair struct{ from, to workorder.Status }
	allowed := map[pair]bool{
		{workorder.StatusNew, workorder.StatusScheduled}:        true,
		{workorder.StatusNew, workorder.StatusCancelled}:        true,
		{workorder.StatusScheduled, workorder.StatusNew}:        true,
		{workorder.StatusScheduled, workorder.StatusInProgress}: true,
		{workorder.StatusScheduled, workorder.StatusCancelled}:  true,
		{workorder.StatusInProgress, workorder.StatusOnHold}:    true,
		{workorder.StatusInProgress, workorder.StatusCompleted}: true,
		{workorder.StatusInProgress, workorder.StatusCancelled}: true,
		{workorder.StatusOnHold, workorder.StatusInProgress}:    true,
		{workorder.StatusOnHold, workorder.StatusCompleted}:     true,
		{workorder.StatusOnHold, workorder.StatusCancelled}:     true,
		{workorder.StatusCompleted, workorder.StatusInProgress}: true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[pair{from, to}]
			t.Run(string(from)+" to "+string(to), func(t *testing.T) {
				assert.Equal(t, want, workorder.CanTransition(from, to))
			})
		}
	}
}
