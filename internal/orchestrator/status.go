package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mgiordano/apielt/internal/checkpoint"
)

// ShowStatus displays the most recent run and the stored watermarks.
func ShowStatus(state checkpoint.StateBackend) error {
	run, err := state.GetLastRun()
	if err != nil {
		return err
	}
	if run == nil {
		fmt.Println("No pipeline runs yet")
	} else {
		fmt.Printf("Run: %s\n", run.ID)
		fmt.Printf("Status: %s\n", run.Status)
		fmt.Printf("Started: %s\n", run.StartedAt.Format(time.RFC3339))
		if run.CompletedAt != nil {
			fmt.Printf("Completed: %s\n", run.CompletedAt.Format(time.RFC3339))
		}
		if run.Error != "" {
			fmt.Printf("Error: %s\n", run.Error)
		}
	}

	position, found, err := state.GetWatermark("catalog")
	if err != nil {
		return err
	}
	if found {
		fmt.Printf("Catalog watermark: offset %d\n", position)
	} else {
		fmt.Println("Catalog watermark: none (next run starts fresh)")
	}

	return nil
}

// ShowHistory displays recent pipeline runs.
func ShowHistory(state checkpoint.StateBackend) error {
	runs, err := state.GetAllRuns()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No pipeline history")
		return nil
	}

	fmt.Printf("%-10s %-20s %-20s %-10s %s\n", "ID", "Started", "Completed", "Status", "Sources")
	fmt.Println("--------------------------------------------------------------------------")

	for _, r := range runs {
		completed := "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-10s %-20s %-20s %-10s %v\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), completed, r.Status, r.Sources)
	}

	return nil
}

// LastRunJSON returns the stored result summary of the most recent
// run as JSON, for automation that polls run outcomes.
func LastRunJSON(state checkpoint.StateBackend) (string, error) {
	run, err := state.GetLastRun()
	if err != nil {
		return "", err
	}
	if run == nil {
		return "{}", nil
	}
	if run.Result != "" {
		return run.Result, nil
	}

	// older runs may predate result summaries; fall back to run metadata
	data, err := json.Marshal(run)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
