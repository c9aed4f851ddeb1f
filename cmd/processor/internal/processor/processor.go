package processor

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/config"
	"github.com/shubham-shewale/market-alerts/pkg/metrics"
	"github.com/shubham-shewale/market-alerts/pkg/models"
)

const appendTimeout = 3 * time.Second

// Processor turns ticks read from Kafka into snapshot-store observations.
type Processor struct {
	logger     Logger
	snapshots  SnapshotWriter
	reader     KafkaReader
	numWorkers int
}

func NewProcessor(cfg *config.Config, logger Logger, snapshots SnapshotWriter, reader KafkaReader) *Processor {
	return &Processor{
		logger:     logger,
		snapshots:  snapshots,
		reader:     reader,
		numWorkers: cfg.Processor.NumWorkers,
	}
}

func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			// Deterministic Sharding: Same symbol always goes to same worker
			workerID := getWorkerID(m.Key, p.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				// Latest beats complete for prices; a full worker drops the tick.
				p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")

	// Workers may only be closed once nothing can send to them
	<-readerDone
	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()

	// Local state for deduplication (only works because of deterministic sharding)
	lastSeq := make(map[string]int64)

	for payload := range msgs {
		var update models.StockUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			p.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}
		obs := update.Observation()
		if obs.Symbol == "" || !obs.Price.IsPositive() {
			p.logger.Warn("Skipping invalid tick", zap.String("symbol", obs.Symbol), zap.String("price", obs.Price.String()))
			continue
		}

		if update.SeqID <= lastSeq[obs.Symbol] {
			p.logger.Debug("Skipping duplicate update", zap.String("symbol", obs.Symbol), zap.Int64("seq_id", update.SeqID))
			continue
		}

		// Background context: a shutdown must not cut a write in half
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := p.snapshots.Append(ctx, obs)
		cancel()
		if err != nil {
			p.logger.Error("Snapshot Append Error", zap.Error(err), zap.String("symbol", obs.Symbol))
			continue
		}

		p.logger.Debug("Processed", zap.String("symbol", obs.Symbol), zap.Int("worker_id", id), zap.Int64("seq_id", update.SeqID))
		lastSeq[obs.Symbol] = update.SeqID
		metrics.TicksTotal.WithLabelValues(obs.Symbol).Inc()
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
