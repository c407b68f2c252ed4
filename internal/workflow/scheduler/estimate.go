package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

// Estimate is the projected duration of a wave plan. Tasks inside a wave run
// in parallel, so a wave lasts as long as its longest task; waves run one
// after another, so the total is their sum.
type Estimate struct {
	PerWave map[int]time.Duration
	Total   time.Duration
}

// EstimateDuration projects durations from each task's estimatedEffort.
// Missing or malformed efforts count as workflow.DefaultEffortMinutes.
func EstimateDuration(tasks []workflow.Task) Estimate {
	perWave := map[int]time.Duration{}
	for _, task := range tasks {
		minutes, _ := workflow.ParseEffort(task.EstimatedEffort)
		d := time.Duration(minutes) * time.Minute
		w := task.EffectiveWave()
		if d > perWave[w] {
			perWave[w] = d
		} else if _, seen := perWave[w]; !seen {
			perWave[w] = d
		}
	}
	var total time.Duration
	for _, d := range perWave {
		total += d
	}
	return Estimate{PerWave: perWave, Total: total}
}

// Waves returns the estimated wave numbers in ascending order.
func (e Estimate) Waves() []int {
	waves := make([]int, 0, len(e.PerWave))
	for w := range e.PerWave {
		waves = append(waves, w)
	}
	sort.Ints(waves)
	return waves
}

// FormatMinutes renders d as "Xh Ym" when it spans an hour or more, else "Ym".
func FormatMinutes(d time.Duration) string {
	total := int(d / time.Minute)
	hours, minutes := total/60, total%60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
