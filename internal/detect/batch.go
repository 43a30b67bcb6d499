package detect

import (
	"sync"
	"sync/atomic"

	"github.com/hfolsom/lineage/internal/logging"
	"github.com/hfolsom/lineage/internal/session"
)

// DefaultWorkers bounds batch scan parallelism when the caller does not.
const DefaultWorkers = 4

// Progress is called after each transcript finishes scanning.
type Progress func(current, total int, sessionID string)

// BatchResult aggregates one batch detection run. Every record gets an
// entry in Detections, negative when its transcript could not be read.
type BatchResult struct {
	Detections map[string]Detection
	Scanned    int
	Children   int
	Parents    int
	Failed     int
}

// ScanBatch runs detection over many transcripts with bounded parallelism.
// One unreadable transcript never aborts the batch; it is counted as failed
// and keeps its negative detection.
func ScanBatch(records []session.Record, workers int, progress Progress) BatchResult {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	total := len(records)

	jobs := make(chan session.Record, total)
	for _, rec := range records {
		jobs <- rec
	}
	close(jobs)

	var (
		mu         sync.Mutex
		detections = make(map[string]Detection, total)
		done       atomic.Int64
		failed     atomic.Int64
		wg         sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				det, err := ScanFile(rec.ID, rec.TranscriptPath)
				if err != nil {
					failed.Add(1)
					logging.Debug("detect", "scan failed for %s: %v", rec.ID, err)
				}

				mu.Lock()
				detections[det.SessionID] = det
				mu.Unlock()

				current := int(done.Add(1))
				if progress != nil {
					progress(current, total, rec.ID)
				}
			}
		}()
	}
	wg.Wait()

	result := BatchResult{
		Detections: detections,
		Scanned:    total,
		Failed:     int(failed.Load()),
	}
	for _, det := range detections {
		if det.IsChild {
			result.Children++
		}
		if det.IsParent {
			result.Parents++
		}
	}
	return result
}
