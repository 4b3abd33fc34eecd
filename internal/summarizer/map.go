package summarizer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/reinferio/saltfish/internal/dataset"
	"github.com/reinferio/saltfish/internal/ids"
	"github.com/reinferio/saltfish/internal/listener"
	"github.com/reinferio/saltfish/internal/objectstore"
	"github.com/reinferio/saltfish/internal/tasklet"
)

// ErrUnknownDataset is returned by Summary when the dataset has neither
// a snapshot nor a stored schema.
var ErrUnknownDataset = errors.New("no summary exists for the dataset")

const storeTimeout = 10 * time.Second

// Map owns one Summarizer per dataset. The table lives on a tasklet so
// the listener handler and the summary read path never race; on first
// sight of a dataset the state is restored from its persisted snapshot,
// falling back to a fresh summarizer built from the stored schema.
type Map struct {
	logger            *slog.Logger
	store             *objectstore.Client
	schemasBucket     string
	summarizersBucket string

	tl *tasklet.Tasklet[map[string]*Summarizer]
}

// NewMap starts the map's tasklet.
func NewMap(logger *slog.Logger, store *objectstore.Client, schemasBucket, summarizersBucket string) (*Map, error) {
	tl, err := tasklet.New(
		func() (map[string]*Summarizer, error) {
			return make(map[string]*Summarizer), nil
		},
		nil,
	)
	if err != nil {
		return nil, err
	}
	return &Map{
		logger:            logger,
		store:             store,
		schemasBucket:     schemasBucket,
		summarizersBucket: summarizersBucket,
		tl:                tl,
	}, nil
}

// load returns the dataset's summarizer, restoring or initializing it
// if this is the first sight. Runs on the tasklet goroutine.
func (m *Map) load(table map[string]*Summarizer, datasetID []byte) (*Summarizer, error) {
	key := string(datasetID)
	if sum, ok := table[key]; ok {
		return sum, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	obj, err := m.store.FetchSync(ctx, m.summarizersBucket, key)
	if err != nil {
		return nil, err
	}
	if obj.Exists() {
		sum, err := FromSnapshot(obj.Value)
		if err != nil {
			return nil, err
		}
		table[key] = sum
		return sum, nil
	}

	schemaObj, err := m.store.FetchSync(ctx, m.schemasBucket, key)
	if err != nil {
		return nil, err
	}
	if !schemaObj.Exists() {
		return nil, ErrUnknownDataset
	}
	sum, err := New(schemaObj.Value)
	if err != nil {
		return nil, err
	}
	table[key] = sum
	return sum, nil
}

// persist writes the summarizer snapshot back to the object store.
// Failures are logged and dropped: summaries are best-effort and the
// next batch retries the write.
func (m *Map) persist(datasetID []byte, sum *Summarizer) {
	blob, err := sum.Snapshot()
	if err != nil {
		m.logger.Error("failed to encode summarizer snapshot",
			slog.String("dataset_id", ids.EncodeID(datasetID)),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	obj, err := m.store.FetchSync(ctx, m.summarizersBucket, string(datasetID))
	if err == nil {
		obj.Value = blob
		err = m.store.StoreSync(ctx, obj)
	}
	if err != nil {
		m.logger.Warn("failed to persist summarizer snapshot",
			slog.String("dataset_id", ids.EncodeID(datasetID)),
			slog.String("error", err.Error()),
		)
	}
}

// Handler returns the listener.Handler consuming put-records
// publications. Register it for listener.PutRecords.
func (m *Map) Handler() listener.Handler {
	return func(kind listener.Kind, payload []byte) {
		event, err := dataset.DecodePutRecordsEvent(payload)
		if err != nil {
			m.logger.Error("dropping undecodable put-records event",
				slog.String("error", err.Error()),
			)
			return
		}

		callErr := m.tl.Call(func(table map[string]*Summarizer) {
			sum, err := m.load(table, event.DatasetID)
			if err != nil {
				m.logger.Error("failed to load summarizer",
					slog.String("dataset_id", ids.EncodeID(event.DatasetID)),
					slog.String("error", err.Error()),
				)
				return
			}
			for i := range event.Records {
				if err := sum.PushRecord(&event.Records[i].Record); err != nil {
					m.logger.Warn("skipping record in summary",
						slog.String("dataset_id", ids.EncodeID(event.DatasetID)),
						slog.String("error", err.Error()),
					)
				}
			}
			m.persist(event.DatasetID, sum)
		})
		if callErr != nil {
			m.logger.Warn("summarizer map stopped, dropping event",
				slog.String("error", callErr.Error()),
			)
		}
	}
}

// Summary renders the dataset's current summary JSON.
func (m *Map) Summary(ctx context.Context, datasetID []byte) ([]byte, error) {
	var blob []byte
	var loadErr error
	err := m.tl.Call(func(table map[string]*Summarizer) {
		sum, err := m.load(table, datasetID)
		if err != nil {
			loadErr = err
			return
		}
		blob, loadErr = sum.Summary()
	})
	if err != nil {
		return nil, err
	}
	if loadErr != nil {
		return nil, loadErr
	}
	return blob, nil
}

// Close stops the tasklet. Pending calls complete first.
func (m *Map) Close() {
	m.tl.Stop()
}
