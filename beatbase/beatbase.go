package beatbase

import (
	"strconv"
	"time"

	"resyncbot/logger"

	"git.mills.io/prologic/bitcask"
)

var (
	Data *bitcask.Bitcask
)

// Init opens the key/value store at the given path. A daily merge loop
// reclaims space from expired usage counters.
func Init(path string) {
	if path == "" {
		path = "beat.db"
	}

	var err error
	Data, err = bitcask.Open(path, bitcask.WithMaxValueSize(10*1024*1024))
	if err != nil {
		logger.Fatal("Failed to open database", "error", err)
	}

	go func() {
		for {
			time.Sleep(24 * time.Hour)
			Merge()
		}
	}()
}

// Close flushes and closes the store.
func Close() {
	if Data != nil {
		if err := Data.Close(); err != nil {
			logger.Error("Error closing database", "error", err)
		}
	}
}

func Merge() {
	logger.Info("Merging database to reclaim space...")
	err := Data.Merge()
	if err != nil {
		logger.Error("Error merging database", "error", err)
	} else {
		logger.Info("Database merge complete.")
	}
}

func PutString(key string, value string) error {
	compressedValue, err := compress([]byte(value))
	if err != nil {
		return err
	}
	return Data.Put(CacheKey(key), compressedValue)
}

func PutInt(key string, value int) error {
	compressedValue, err := compress([]byte(strconv.Itoa(value)))
	if err != nil {
		return err
	}
	return Data.Put(CacheKey(key), compressedValue)
}

func PutStringExpireSeconds(key string, value string, expire int) error {
	compressedValue, err := compress([]byte(value))
	if err != nil {
		return err
	}
	return Data.PutWithTTL(CacheKey(key), compressedValue, time.Second*time.Duration(expire))
}

func Get(key string) ([]byte, error) {
	compressedValue, err := Data.Get(CacheKey(key))
	if err != nil {
		return nil, err
	}
	return decompress(compressedValue)
}

// GetInt reads an integer value; missing or malformed keys read as 0.
func GetInt(key string) int {
	raw, err := Get(key)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0
	}
	return n
}

func Has(key string) bool {
	return Data.Has(CacheKey(key))
}

func Delete(key string) error {
	return Data.Delete(CacheKey(key))
}
