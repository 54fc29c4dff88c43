package badger

import (
	"errors"

	"github.com/poiesic/grundgraph/storage"
)

// errClosed is returned by every operation after Close.
var errClosed = storage.ErrStorageClosed

// Key prefixes for different data types.
// Composite keys use a zero byte separator because IDs contain ':'.
const (
	jobPrefix        = "job\x00"
	jobChunkPrefix   = "jobchunk\x00"
	collectionPrefix = "veccol\x00"
	pointPrefix      = "vec\x00"
	pointDocPrefix   = "vecdoc\x00"
	pointEntPrefix   = "vecent\x00"
	sep              = "\x00"
)

// makeJobKey generates a key for a job record by ID.
func makeJobKey(id string) []byte {
	return []byte(jobPrefix + id)
}

// makeJobChunkKey generates the completion marker key for one chunk of a job.
// Format: prefix jobID 0 chunkID
func makeJobChunkKey(jobID, chunkID string) []byte {
	return []byte(jobChunkPrefix + jobID + sep + chunkID)
}

// makePartialJobChunkKey generates the prefix of all completion markers of a job.
func makePartialJobChunkKey(jobID string) []byte {
	return []byte(jobChunkPrefix + jobID + sep)
}

// makeCollectionKey generates the key holding a collection's dimension.
func makeCollectionKey(collection string) []byte {
	return []byte(collectionPrefix + collection)
}

// makePointKey generates the key of a point.
// Format: prefix collection 0 pointID
func makePointKey(collection, id string) []byte {
	return []byte(pointPrefix + collection + sep + id)
}

// makePartialPointKey generates the prefix of every point in a collection.
func makePartialPointKey(collection string) []byte {
	return []byte(pointPrefix + collection + sep)
}

// makePointDocKey generates the document index key of a point.
// Format: prefix collection 0 documentID 0 pointID
func makePointDocKey(collection, documentID, id string) []byte {
	return []byte(pointDocPrefix + collection + sep + documentID + sep + id)
}

func makePartialPointDocKey(collection, documentID string) []byte {
	return []byte(pointDocPrefix + collection + sep + documentID + sep)
}

// makePointEntityKey generates the entity index key of a point.
// Format: prefix collection 0 entityID 0 pointID
func makePointEntityKey(collection, entityID, id string) []byte {
	return []byte(pointEntPrefix + collection + sep + entityID + sep + id)
}

func makePartialPointEntityKey(collection, entityID string) []byte {
	return []byte(pointEntPrefix + collection + sep + entityID + sep)
}

// suffixAfter returns the part of key following prefix.
func suffixAfter(key, prefix []byte) (string, error) {
	if len(key) < len(prefix) {
		return "", errors.New("key shorter than prefix")
	}
	return string(key[len(prefix):]), nil
}
