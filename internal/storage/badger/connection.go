package badger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/vigil/internal/common"
)

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
}

// newCodec returns the CBOR encode and decode functions used for stored values
func newCodec() (badgerhold.EncodeFunc, badgerhold.DecodeFunc, error) {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, nil, fmt.Errorf("cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, nil, fmt.Errorf("cbor decoder: %w", err)
	}
	return enc.Marshal, dec.Unmarshal, nil
}

// badgerLogger routes badger's internal messages to arbor. Info and debug
// chatter is dropped to debug level.
type badgerLogger struct {
	logger arbor.ILogger
}

var _ badger.Logger = badgerLogger{}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msg(line(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msg(line(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msg(line(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msg(line(format, args...))
}

func line(format string, args ...interface{}) string {
	return "badger: " + strings.TrimSpace(fmt.Sprintf(format, args...))
}

// openOptions builds badgerhold options for dir with the CBOR codec
func openOptions(dir string, logger arbor.ILogger) (badgerhold.Options, error) {
	encode, decode, err := newCodec()
	if err != nil {
		return badgerhold.Options{}, err
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = badgerLogger{logger: logger}
	options.Encoder = encode
	options.Decoder = decode
	return options, nil
}

// NewBadgerDB creates a new Badger database connection
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	// If reset_on_startup is enabled, delete the existing database
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options, err := openOptions(config.Path, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("path", config.Path).Msg("Opening Badger database connection")

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", config.Path, err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database initialized")

	return &BadgerDB{
		store:  store,
		logger: logger,
		config: config,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
