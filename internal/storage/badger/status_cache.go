package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	badgerv4 "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

// StatusCache implements interfaces.StatusCache directly against the raw
// Badger transaction API. Several operations here (set-if-absent, prefix
// scans for child/user indexes) have no equivalent in badgerhold's typed
// Get/Upsert, which always overwrites and only queries indexed fields.
type StatusCache struct {
	db     *DB
	logger arbor.ILogger
}

var _ interfaces.StatusCache = (*StatusCache)(nil)

func NewStatusCache(db *DB, logger arbor.ILogger) *StatusCache {
	return &StatusCache{db: db, logger: logger}
}

// Key families (§6): status:{job_id}, owner:{job_id}, userjob:{user_id}:{job_id},
// child:{parent_id}:{role}, pagechildnum:{main_id}:{page_number}, pagechildren:{main_id}:{child_id},
// pagestotal:{main_id}, result:{job_id}.

func statusKey(jobID string) []byte      { return []byte("status:" + jobID) }
func ownerKey(jobID string) []byte       { return []byte("owner:" + jobID) }
func userJobKey(userID, jobID string) []byte {
	return []byte("userjob:" + userID + ":" + jobID)
}
func userJobPrefix(userID string) []byte { return []byte("userjob:" + userID + ":") }
func childKey(parentID string, role interfaces.ChildRole) []byte {
	return []byte("child:" + parentID + ":" + string(role))
}
func pageChildByNumKey(mainID string, pageNumber int) []byte {
	return []byte("pagechildnum:" + mainID + ":" + strconv.Itoa(pageNumber))
}
func pageChildrenKey(mainID, childID string) []byte {
	return []byte("pagechildren:" + mainID + ":" + childID)
}
func pageChildrenPrefix(mainID string) []byte { return []byte("pagechildren:" + mainID + ":") }
func pagesTotalKey(mainID string) []byte      { return []byte("pagestotal:" + mainID) }
func resultKey(jobID string) []byte           { return []byte("result:" + jobID) }

func (c *StatusCache) get(key []byte, out interface{}) (bool, error) {
	var found bool
	err := c.db.Raw().View(func(txn *badgerv4.Txn) error {
		item, err := txn.Get(key)
		if err == badgerv4.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			if out == nil {
				return nil
			}
			return json.Unmarshal(val, out)
		})
	})
	return found, err
}

func (c *StatusCache) put(key []byte, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.db.Raw().Update(func(txn *badgerv4.Txn) error {
		return txn.Set(key, data)
	})
}

func (c *StatusCache) putRaw(key, value []byte) error {
	return c.db.Raw().Update(func(txn *badgerv4.Txn) error {
		return txn.Set(key, value)
	})
}

func (c *StatusCache) getRaw(key []byte) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := c.db.Raw().View(func(txn *badgerv4.Txn) error {
		item, err := txn.Get(key)
		if err == badgerv4.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	return out, found, err
}

func (c *StatusCache) delete(key []byte) error {
	return c.db.Raw().Update(func(txn *badgerv4.Txn) error {
		err := txn.Delete(key)
		if err == badgerv4.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (c *StatusCache) deletePrefix(prefix []byte) error {
	var keys [][]byte
	err := c.db.Raw().View(func(txn *badgerv4.Txn) error {
		opts := badgerv4.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, append([]byte(nil), it.Item().Key()...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.db.Raw().Update(func(txn *badgerv4.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil && err != badgerv4.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

func (c *StatusCache) listSuffixes(prefix []byte) ([]string, error) {
	var out []string
	err := c.db.Raw().View(func(txn *badgerv4.Txn) error {
		opts := badgerv4.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			out = append(out, strings.TrimPrefix(key, string(prefix)))
		}
		return nil
	})
	return out, err
}

func (c *StatusCache) PutStatus(ctx context.Context, jobID string, rec interfaces.StatusRecord) error {
	return c.put(statusKey(jobID), rec)
}

func (c *StatusCache) GetStatus(ctx context.Context, jobID string) (*interfaces.StatusRecord, error) {
	var rec interfaces.StatusRecord
	found, err := c.get(statusKey(jobID), &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to get status for %s: %w", jobID, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (c *StatusCache) SetOwner(ctx context.Context, jobID, userID string) error {
	if err := c.putRaw(ownerKey(jobID), []byte(userID)); err != nil {
		return err
	}
	return c.putRaw(userJobKey(userID, jobID), []byte(jobID))
}

func (c *StatusCache) VerifyOwner(ctx context.Context, jobID, userID string) (bool, error) {
	owner, found, err := c.getRaw(ownerKey(jobID))
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return string(owner) == userID, nil
}

func (c *StatusCache) ListUserJobs(ctx context.Context, userID string, limit int) ([]string, error) {
	jobIDs, err := c.listSuffixes(userJobPrefix(userID))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(jobIDs) > limit {
		jobIDs = jobIDs[:limit]
	}
	return jobIDs, nil
}

func (c *StatusCache) UpdateProgress(ctx context.Context, jobID string, value int) error {
	var rec interfaces.StatusRecord
	found, err := c.get(statusKey(jobID), &rec)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("cannot update progress: no status record for %s", jobID)
	}
	rec.Progress = value
	return c.put(statusKey(jobID), rec)
}

func (c *StatusCache) AddChild(ctx context.Context, parentID string, role interfaces.ChildRole, childID string) error {
	if role == interfaces.ChildRolePage {
		return c.putRaw(pageChildrenKey(parentID, childID), []byte(childID))
	}
	return c.putRaw(childKey(parentID, role), []byte(childID))
}

func (c *StatusCache) GetPageChildren(ctx context.Context, parentID string) ([]string, error) {
	return c.listSuffixes(pageChildrenPrefix(parentID))
}

func (c *StatusCache) GetChild(ctx context.Context, parentID string, role interfaces.ChildRole) (string, bool, error) {
	val, found, err := c.getRaw(childKey(parentID, role))
	if err != nil {
		return "", false, err
	}
	return string(val), found, nil
}

// SetChildIfAbsent is the race-free set-if-absent primitive backing
// exactly-once MERGE enqueue (§5): a single Badger transaction checks for
// the slot and writes it only if missing, so of N concurrent callers
// exactly one observes won=true.
func (c *StatusCache) SetChildIfAbsent(ctx context.Context, parentID string, role interfaces.ChildRole, childID string) (bool, error) {
	key := childKey(parentID, role)
	won := false
	err := c.db.Raw().Update(func(txn *badgerv4.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			won = false
			return nil
		}
		if err != badgerv4.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(key, []byte(childID)); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err == badgerv4.ErrConflict {
		// a concurrent transaction committed the slot first: this caller lost.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to set-if-absent child %s/%s: %w", parentID, role, err)
	}
	if role == interfaces.ChildRolePage {
		// keep the by-id enumeration set consistent even when a caller
		// registers a page child through the generic slot path.
		if pcErr := c.putRaw(pageChildrenKey(parentID, childID), []byte(childID)); pcErr != nil {
			return won, pcErr
		}
	}
	return won, nil
}

func (c *StatusCache) SetPagesTotal(ctx context.Context, mainID string, n int) error {
	return c.putRaw(pagesTotalKey(mainID), []byte(strconv.Itoa(n)))
}

func (c *StatusCache) GetPagesTotal(ctx context.Context, mainID string) (int, bool, error) {
	val, found, err := c.getRaw(pagesTotalKey(mainID))
	if err != nil || !found {
		return 0, found, err
	}
	n, err := strconv.Atoi(string(val))
	if err != nil {
		return 0, false, fmt.Errorf("corrupt pages_total for %s: %w", mainID, err)
	}
	return n, true, nil
}

func (c *StatusCache) GetPageChildByNumber(ctx context.Context, mainID string, pageNumber int) (string, bool, error) {
	val, found, err := c.getRaw(pageChildByNumKey(mainID, pageNumber))
	if err != nil {
		return "", false, err
	}
	return string(val), found, nil
}

func (c *StatusCache) SetPageChildByNumber(ctx context.Context, mainID string, pageNumber int, childID string) error {
	if err := c.putRaw(pageChildByNumKey(mainID, pageNumber), []byte(childID)); err != nil {
		return err
	}
	return c.putRaw(pageChildrenKey(mainID, childID), []byte(childID))
}

func (c *StatusCache) countPageChildrenWithStatus(ctx context.Context, mainID string, statuses map[string]bool) (int, error) {
	children, err := c.GetPageChildren(ctx, mainID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, childID := range children {
		rec, err := c.GetStatus(ctx, childID)
		if err != nil {
			return 0, err
		}
		if rec != nil && statuses[rec.Status] {
			count++
		}
	}
	return count, nil
}

func (c *StatusCache) CountCompletedPageChildren(ctx context.Context, mainID string) (int, error) {
	return c.countPageChildrenWithStatus(ctx, mainID, map[string]bool{"COMPLETED": true})
}

func (c *StatusCache) CountFailedPageChildren(ctx context.Context, mainID string) (int, error) {
	return c.countPageChildrenWithStatus(ctx, mainID, map[string]bool{"FAILED": true})
}

// AllPageChildrenTerminal implements the §4.J aggregator predicate: every
// registered page child must have reached one of the three terminal states.
func (c *StatusCache) AllPageChildrenTerminal(ctx context.Context, mainID string) (bool, error) {
	children, err := c.GetPageChildren(ctx, mainID)
	if err != nil {
		return false, err
	}
	if len(children) == 0 {
		return false, nil
	}
	terminal := map[string]bool{"COMPLETED": true, "FAILED": true, "CANCELLED": true}
	for _, childID := range children {
		rec, err := c.GetStatus(ctx, childID)
		if err != nil {
			return false, err
		}
		if rec == nil || !terminal[rec.Status] {
			return false, nil
		}
	}
	return true, nil
}

func (c *StatusCache) SetResult(ctx context.Context, jobID string, blob interfaces.ResultBlob) error {
	return c.put(resultKey(jobID), blob)
}

func (c *StatusCache) GetResult(ctx context.Context, jobID string) (*interfaces.ResultBlob, error) {
	var blob interfaces.ResultBlob
	found, err := c.get(resultKey(jobID), &blob)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &blob, nil
}

// DeleteJobKeys removes every key family for jobID, used by the cleanup
// sweep (§4.K). Only MAIN jobIDs carry child/page-total prefixes, but
// deleting an empty prefix on a leaf job is a cheap no-op.
func (c *StatusCache) DeleteJobKeys(ctx context.Context, jobID string) error {
	owner, hasOwner, err := c.getRaw(ownerKey(jobID))
	if err != nil {
		return err
	}

	if err := c.delete(statusKey(jobID)); err != nil {
		return err
	}
	if err := c.delete(resultKey(jobID)); err != nil {
		return err
	}
	if err := c.delete(pagesTotalKey(jobID)); err != nil {
		return err
	}
	if err := c.deletePrefix([]byte("child:" + jobID + ":")); err != nil {
		return err
	}
	if err := c.deletePrefix(pageChildrenPrefix(jobID)); err != nil {
		return err
	}
	if err := c.deletePrefix([]byte("pagechildnum:" + jobID + ":")); err != nil {
		return err
	}
	if hasOwner {
		if err := c.delete(userJobKey(string(owner), jobID)); err != nil {
			return err
		}
	}
	return c.delete(ownerKey(jobID))
}
