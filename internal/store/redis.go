package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/runhawk/engine/pkg/api"
)

// RedisStore implements Store on a Redis keyspace. Records are stored
// as JSON values; step results and logs are list-backed so appends
// preserve insertion order
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

const DefaultPrefix = "runhawk"

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store over an existing Redis client
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
	}
}

// SaveRunbook stores a runbook version and maintains the lineage index.
// When the saved version is latest, the previous latest of the lineage
// is demoted in the same transaction
func (s *RedisStore) SaveRunbook(
	ctx context.Context, rb *api.Runbook,
) error {
	key := s.key("runbook", string(rb.ID))
	watched := []string{key}
	if rb.ParentID != "" {
		watched = append(watched, s.key("runbook", string(rb.ParentID)))
	}

	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var demote []byte
		if rb.IsLatest && rb.ParentID != "" {
			parent, err := s.getRunbookTx(ctx, tx, rb.ParentID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if parent != nil && parent.IsLatest {
				parent.IsLatest = false
				demote, err = json.Marshal(parent)
				if err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(rb)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.key("runbooks"), string(rb.ID))
			if demote != nil {
				pipe.Set(
					ctx, s.key("runbook", string(rb.ParentID)), demote, 0,
				)
			}
			return nil
		})
		return err
	}, watched...)
}

// GetRunbook retrieves one runbook version by id
func (s *RedisStore) GetRunbook(
	ctx context.Context, id api.RunbookID,
) (*api.Runbook, error) {
	return getJSON[api.Runbook](ctx, s.rdb, s.key("runbook", string(id)))
}

// ListRunbooks returns every stored runbook version
func (s *RedisStore) ListRunbooks(
	ctx context.Context,
) ([]*api.Runbook, error) {
	ids, err := s.rdb.SMembers(ctx, s.key("runbooks")).Result()
	if err != nil {
		return nil, err
	}

	books := make([]*api.Runbook, 0, len(ids))
	for _, id := range ids {
		rb, err := s.GetRunbook(ctx, api.RunbookID(id))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		books = append(books, rb)
	}

	sort.Slice(books, func(i, j int) bool {
		if books[i].Name != books[j].Name {
			return books[i].Name < books[j].Name
		}
		return books[i].Version < books[j].Version
	})
	return books, nil
}

// CreateExecution stores a new execution record
func (s *RedisStore) CreateExecution(
	ctx context.Context, ex *api.Execution,
) error {
	data, err := json.Marshal(ex)
	if err != nil {
		return err
	}

	key := s.key("execution", string(ex.ID))
	ok, err := s.rdb.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: execution %s", ErrConflict, ex.ID)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.key("executions"), string(ex.ID))
		pipe.SAdd(
			ctx, s.key("executions", string(ex.RunbookID)), string(ex.ID),
		)
		return nil
	})
	return err
}

// GetExecution retrieves an execution by id
func (s *RedisStore) GetExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.Execution, error) {
	return getJSON[api.Execution](ctx, s.rdb, s.key("execution", string(id)))
}

// UpdateExecution applies the mutation to the stored record under an
// optimistic transaction
func (s *RedisStore) UpdateExecution(
	ctx context.Context, id api.ExecutionID, update func(*api.Execution) error,
) (*api.Execution, error) {
	key := s.key("execution", string(id))

	var updated *api.Execution
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("%w: execution %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		var ex api.Execution
		if err := json.Unmarshal(data, &ex); err != nil {
			return err
		}
		if err := update(&ex); err != nil {
			return err
		}

		next, err := json.Marshal(&ex)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err == redis.TxFailedErr {
			return ErrConcurrentUpdate
		}
		if err != nil {
			return err
		}
		updated = &ex
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListExecutions returns executions, optionally filtered by runbook id
func (s *RedisStore) ListExecutions(
	ctx context.Context, runbookID api.RunbookID,
) ([]*api.Execution, error) {
	indexKey := s.key("executions")
	if runbookID != "" {
		indexKey = s.key("executions", string(runbookID))
	}

	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}

	execs := make([]*api.Execution, 0, len(ids))
	for _, id := range ids {
		ex, err := s.GetExecution(ctx, api.ExecutionID(id))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		execs = append(execs, ex)
	}

	sort.Slice(execs, func(i, j int) bool {
		return execs[i].CreatedAt.Before(execs[j].CreatedAt)
	})
	return execs, nil
}

// AppendStepResult appends one step attempt outcome to the execution's
// result log
func (s *RedisStore) AppendStepResult(
	ctx context.Context, sr *api.StepResult,
) error {
	data, err := json.Marshal(sr)
	if err != nil {
		return err
	}
	key := s.key("results", string(sr.ExecutionID))
	return s.rdb.RPush(ctx, key, data).Err()
}

// UpdateStepResult rewrites the stored row matching (step id, attempt).
// It exists solely for the approval coordinator flipping a paused row
// to its final status
func (s *RedisStore) UpdateStepResult(
	ctx context.Context, execID api.ExecutionID, stepID api.StepID,
	attempt int, update func(*api.StepResult) error,
) (*api.StepResult, error) {
	key := s.key("results", string(execID))

	var updated *api.StepResult
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		rows, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}

		for i, row := range rows {
			var sr api.StepResult
			if err := json.Unmarshal([]byte(row), &sr); err != nil {
				return err
			}
			if sr.StepID != stepID || sr.Attempt != attempt {
				continue
			}
			if err := update(&sr); err != nil {
				return err
			}
			next, err := json.Marshal(&sr)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(
				ctx, func(pipe redis.Pipeliner) error {
					pipe.LSet(ctx, key, int64(i), next)
					return nil
				},
			)
			if err == redis.TxFailedErr {
				return ErrConcurrentUpdate
			}
			if err != nil {
				return err
			}
			updated = &sr
			return nil
		}
		return fmt.Errorf(
			"%w: result %s/%s attempt %d",
			ErrNotFound, execID, stepID, attempt,
		)
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListStepResults returns all step attempt rows for an execution in
// insertion order
func (s *RedisStore) ListStepResults(
	ctx context.Context, execID api.ExecutionID,
) ([]*api.StepResult, error) {
	key := s.key("results", string(execID))
	return listJSON[api.StepResult](ctx, s.rdb, key)
}

// CreateApproval stores a new approval, rejecting a second open
// approval for the same (execution, step index)
func (s *RedisStore) CreateApproval(
	ctx context.Context, a *api.Approval,
) error {
	indexKey := s.key("approvals", string(a.ExecutionID))

	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		ids, err := tx.SMembers(ctx, indexKey).Result()
		if err != nil {
			return err
		}
		for _, id := range ids {
			existing, err := s.GetApproval(ctx, api.ApprovalID(id))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if existing.StepIndex == a.StepIndex && existing.IsOpen() {
				return fmt.Errorf(
					"%w: open approval for %s step %d",
					ErrConflict, a.ExecutionID, a.StepIndex,
				)
			}
		}

		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key("approval", string(a.ID)), data, 0)
			pipe.SAdd(ctx, indexKey, string(a.ID))
			pipe.SAdd(ctx, s.key("approvals", "pending"), string(a.ID))
			return nil
		})
		if err == redis.TxFailedErr {
			return ErrConcurrentUpdate
		}
		return err
	}, indexKey)
}

// GetApproval retrieves an approval by id
func (s *RedisStore) GetApproval(
	ctx context.Context, id api.ApprovalID,
) (*api.Approval, error) {
	return getJSON[api.Approval](ctx, s.rdb, s.key("approval", string(id)))
}

// UpdateApproval applies the mutation under an optimistic transaction,
// maintaining the pending index
func (s *RedisStore) UpdateApproval(
	ctx context.Context, id api.ApprovalID, update func(*api.Approval) error,
) (*api.Approval, error) {
	key := s.key("approval", string(id))

	var updated *api.Approval
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("%w: approval %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		var a api.Approval
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		if err := update(&a); err != nil {
			return err
		}

		next, err := json.Marshal(&a)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			if !a.IsOpen() {
				pipe.SRem(ctx, s.key("approvals", "pending"), string(a.ID))
			}
			return nil
		})
		if err == redis.TxFailedErr {
			return ErrConcurrentUpdate
		}
		if err != nil {
			return err
		}
		updated = &a
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListApprovals returns all approvals for an execution
func (s *RedisStore) ListApprovals(
	ctx context.Context, execID api.ExecutionID,
) ([]*api.Approval, error) {
	ids, err := s.rdb.SMembers(
		ctx, s.key("approvals", string(execID)),
	).Result()
	if err != nil {
		return nil, err
	}
	return s.approvalsByID(ctx, ids)
}

// ListPendingApprovals returns every open approval across executions
func (s *RedisStore) ListPendingApprovals(
	ctx context.Context,
) ([]*api.Approval, error) {
	ids, err := s.rdb.SMembers(ctx, s.key("approvals", "pending")).Result()
	if err != nil {
		return nil, err
	}
	return s.approvalsByID(ctx, ids)
}

// AppendLog appends a log entry, assigning its per-execution sequence
func (s *RedisStore) AppendLog(
	ctx context.Context, entry *api.LogEntry,
) error {
	seq, err := s.rdb.Incr(
		ctx, s.key("logseq", string(entry.ExecutionID)),
	).Result()
	if err != nil {
		return err
	}
	entry.Sequence = seq

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := s.key("logs", string(entry.ExecutionID))
	return s.rdb.RPush(ctx, key, data).Err()
}

// ListLogs returns all log entries for an execution in append order
func (s *RedisStore) ListLogs(
	ctx context.Context, execID api.ExecutionID,
) ([]*api.LogEntry, error) {
	key := s.key("logs", string(execID))
	return listJSON[api.LogEntry](ctx, s.rdb, key)
}

func (s *RedisStore) approvalsByID(
	ctx context.Context, ids []string,
) ([]*api.Approval, error) {
	approvals := make([]*api.Approval, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetApproval(ctx, api.ApprovalID(id))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	sort.Slice(approvals, func(i, j int) bool {
		return approvals[i].CreatedAt.Before(approvals[j].CreatedAt)
	})
	return approvals, nil
}

func (s *RedisStore) getRunbookTx(
	ctx context.Context, tx *redis.Tx, id api.RunbookID,
) (*api.Runbook, error) {
	data, err := tx.Get(ctx, s.key("runbook", string(id))).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rb api.Runbook
	if err := json.Unmarshal(data, &rb); err != nil {
		return nil, err
	}
	return &rb, nil
}

func (s *RedisStore) key(parts ...string) string {
	key := s.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func getJSON[T any](
	ctx context.Context, rdb *redis.Client, key string,
) (*T, error) {
	data, err := rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

func listJSON[T any](
	ctx context.Context, rdb *redis.Client, key string,
) ([]*T, error) {
	rows, err := rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	values := make([]*T, 0, len(rows))
	for _, row := range rows {
		var value T
		if err := json.Unmarshal([]byte(row), &value); err != nil {
			return nil, err
		}
		values = append(values, &value)
	}
	return values, nil
}
