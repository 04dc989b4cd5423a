package persistence

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"xrp-grid-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

var (
	tradeKeyPrefix  = []byte("trade:")
	marginKeyPrefix = []byte("margin:")
	marginSeqKey    = []byte("margin_seq")
)

// badgerRepository is the BadgerDB implementation of the TradeRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) a BadgerDB database at dbPath.
func NewBadgerRepository(dbPath string) (TradeRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noisy; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{db: db}, nil
}

func tradeKey(id string) []byte {
	return append(append([]byte{}, tradeKeyPrefix...), id...)
}

// SaveTrade writes the record under "trade:<id>" as JSON.
func (r *badgerRepository) SaveTrade(record *models.TradeRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tradeKey(record.ID), data)
	})
}

// LoadTrades scans the trade prefix and decodes every record.
func (r *badgerRepository) LoadTrades() ([]*models.TradeRecord, error) {
	var records []*models.TradeRecord

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tradeKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(tradeKeyPrefix); it.ValidForPrefix(tradeKeyPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var record models.TradeRecord
				if err := json.Unmarshal(val, &record); err != nil {
					return fmt.Errorf("corrupt trade record at %s: %w", it.Item().Key(), err)
				}
				records = append(records, &record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AppendMargins writes each margin record under a monotonically increasing
// sequence number so that load order matches emit order.
func (r *badgerRepository) AppendMargins(records []models.MarginRecord) error {
	if len(records) == 0 {
		return nil
	}

	return r.db.Update(func(txn *badger.Txn) error {
		seq, err := r.nextMarginSeq(txn)
		if err != nil {
			return err
		}

		for _, record := range records {
			data, err := json.Marshal(record)
			if err != nil {
				return err
			}
			key := make([]byte, len(marginKeyPrefix)+8)
			copy(key, marginKeyPrefix)
			binary.BigEndian.PutUint64(key[len(marginKeyPrefix):], seq)
			if err := txn.Set(key, data); err != nil {
				return err
			}
			seq++
		}

		seqBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBuf, seq)
		return txn.Set(marginSeqKey, seqBuf)
	})
}

func (r *badgerRepository) nextMarginSeq(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(marginSeqKey)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var seq uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt margin sequence value")
		}
		seq = binary.BigEndian.Uint64(val)
		return nil
	})
	return seq, err
}

// LoadMargins scans the margin prefix in key (= emit) order.
func (r *badgerRepository) LoadMargins() ([]models.MarginRecord, error) {
	var records []models.MarginRecord

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = marginKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(marginKeyPrefix); it.ValidForPrefix(marginKeyPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var record models.MarginRecord
				if err := json.Unmarshal(val, &record); err != nil {
					return fmt.Errorf("corrupt margin record at %s: %w", it.Item().Key(), err)
				}
				records = append(records, record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
