package cache

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

const (
	schemaVersion = 1

	rootBucketName          = "templates"
	metaBucketName          = "meta"
	entriesBucketName       = "entries"
	templateNamesBucketName = "template_names"
	versionKey              = "version"
)

func ensureSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(rootBucketName))
		if err != nil {
			return fmt.Errorf("create root bucket: %w", err)
		}
		meta, err := root.CreateBucketIfNotExists([]byte(metaBucketName))
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		if _, err := root.CreateBucketIfNotExists([]byte(entriesBucketName)); err != nil {
			return fmt.Errorf("create entries bucket: %w", err)
		}
		if _, err := root.CreateBucketIfNotExists([]byte(templateNamesBucketName)); err != nil {
			return fmt.Errorf("create template names bucket: %w", err)
		}

		switch current := readSchemaVersion(meta); {
		case current == 0:
			return writeSchemaVersion(meta, schemaVersion)
		case current != schemaVersion:
			return fmt.Errorf("template cache schema version %d, want %d", current, schemaVersion)
		}
		return nil
	})
}

func readSchemaVersion(meta *bolt.Bucket) int {
	if meta == nil {
		return 0
	}
	raw := meta.Get([]byte(versionKey))
	if len(raw) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(raw))
}

func writeSchemaVersion(meta *bolt.Bucket, version int) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(version))
	return meta.Put([]byte(versionKey), buf)
}
