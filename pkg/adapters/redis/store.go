package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/limpopo/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.Storage using Redis.
//
// Layout, under the key prefix:
//
//	dialog:seq                          INCR counter of dialog ids
//	respondent:<messenger>:<id>         HASH of respondent fields
//	dialog:<id>                         HASH respondent_id, messenger, created_at, finished_at, outcome
//	dialog:<id>:steps                   LIST of JSON steps
//	dialog:<id>:calls                   SET of call keys
//	dialog:<id>:pauses                  LIST of JSON pause records, the active one first
//	open:<messenger>:<id>               ZSET of unfinished, unpaused dialog ids
//	paused:<messenger>:<id>             ZSET of unfinished, paused dialog ids
type Store struct {
	client backend.UniversalClient
	prefix string
}

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "limpopo:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client returns the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() backend.UniversalClient { return s.client }

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) dialogKey(id domain.DialogID) string {
	return s.prefix + "dialog:" + strconv.FormatInt(int64(id), 10)
}

func (s *Store) openKey(messenger domain.Messenger, respondentID string) string {
	return s.prefix + "open:" + string(messenger) + ":" + respondentID
}

func (s *Store) pausedKey(messenger domain.Messenger, respondentID string) string {
	return s.prefix + "paused:" + string(messenger) + ":" + respondentID
}

type dialogOwner struct {
	respondentID string
	messenger    domain.Messenger
	finished     bool
}

func (s *Store) owner(ctx context.Context, id domain.DialogID) (dialogOwner, error) {
	vals, err := s.client.HMGet(ctx, s.dialogKey(id), "respondent_id", "messenger", "finished_at").Result()
	if err != nil {
		return dialogOwner{}, fmt.Errorf("failed to read dialog %d: %w", id, err)
	}
	respondentID, _ := vals[0].(string)
	messenger, _ := vals[1].(string)
	if respondentID == "" {
		return dialogOwner{}, fmt.Errorf("redis: dialog %d: %w", id, domain.ErrDialogNotFound)
	}
	finished, _ := vals[2].(string)
	return dialogOwner{
		respondentID: respondentID,
		messenger:    domain.Messenger(messenger),
		finished:     finished != "",
	}, nil
}

func (s *Store) CreateDialog(ctx context.Context, respondent domain.Respondent) (domain.DialogID, error) {
	extra, err := json.Marshal(respondent.ExtraData)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal extra data: %w", err)
	}

	seq, err := s.client.Incr(ctx, s.prefix+"dialog:seq").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate dialog id: %w", err)
	}
	id := domain.DialogID(seq)

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.HSet(ctx, s.prefix+"respondent:"+respondent.Key(),
			"id", respondent.ID,
			"messenger", string(respondent.Messenger),
			"username", respondent.Username,
			"first_name", respondent.FirstName,
			"last_name", respondent.LastName,
			"extra_data", string(extra),
		)
		pipe.HSet(ctx, s.dialogKey(id),
			"respondent_id", respondent.ID,
			"messenger", string(respondent.Messenger),
			"created_at", time.Now().UTC().Format(time.RFC3339Nano),
		)
		pipe.ZAdd(ctx, s.openKey(respondent.Messenger, respondent.ID), backend.Z{Score: float64(id), Member: int64(id)})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create dialog: %w", err)
	}
	return id, nil
}

func (s *Store) SaveQuestionAndAnswer(ctx context.Context, dialogID domain.DialogID, step domain.Step) error {
	if _, err := s.owner(ctx, dialogID); err != nil {
		return err
	}
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step: %w", err)
	}
	if err := s.client.RPush(ctx, s.dialogKey(dialogID)+":steps", data).Err(); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

func (s *Store) SaveFunctionCall(ctx context.Context, dialogID domain.DialogID, key domain.CallKey) error {
	if _, err := s.owner(ctx, dialogID); err != nil {
		return err
	}
	member := strconv.FormatUint(uint64(key), 10)
	if err := s.client.SAdd(ctx, s.dialogKey(dialogID)+":calls", member).Err(); err != nil {
		return fmt.Errorf("failed to save function call: %w", err)
	}
	return nil
}

func (s *Store) CloseDialog(ctx context.Context, dialogID domain.DialogID, outcome domain.Outcome) error {
	owner, err := s.owner(ctx, dialogID)
	if err != nil || !outcome.Terminal() {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.HSet(ctx, s.dialogKey(dialogID),
			"finished_at", time.Now().UTC().Format(time.RFC3339Nano),
			"outcome", outcome.String(),
		)
		pipe.ZRem(ctx, s.openKey(owner.messenger, owner.respondentID), int64(dialogID))
		pipe.ZRem(ctx, s.pausedKey(owner.messenger, owner.respondentID), int64(dialogID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to close dialog: %w", err)
	}
	return nil
}

func (s *Store) LastDialogID(ctx context.Context, respondentID string, messenger domain.Messenger, onPause bool) (domain.DialogID, bool, error) {
	key := s.openKey(messenger, respondentID)
	if onPause {
		key = s.pausedKey(messenger, respondentID)
	}
	ids, err := s.client.ZRevRange(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to find last dialog: %w", err)
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(ids[0], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt dialog id %q: %w", ids[0], err)
	}
	return domain.DialogID(id), true, nil
}

func (s *Store) DialogSteps(ctx context.Context, dialogID domain.DialogID) ([]domain.Step, error) {
	raw, err := s.client.LRange(ctx, s.dialogKey(dialogID)+":steps", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	steps := make([]domain.Step, 0, len(raw))
	for _, item := range raw {
		var step domain.Step
		if err := json.Unmarshal([]byte(item), &step); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (s *Store) CalledFunctions(ctx context.Context, dialogID domain.DialogID) ([]domain.CallKey, error) {
	members, err := s.client.SMembers(ctx, s.dialogKey(dialogID)+":calls").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load function calls: %w", err)
	}
	keys := make([]domain.CallKey, 0, len(members))
	for _, m := range members {
		k, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt call key %q: %w", m, err)
		}
		keys = append(keys, domain.CallKey(k))
	}
	return keys, nil
}

func (s *Store) Pause(ctx context.Context, dialogID domain.DialogID) (bool, error) {
	owner, err := s.owner(ctx, dialogID)
	if err != nil {
		return false, err
	}
	added, err := s.client.ZAddNX(ctx, s.pausedKey(owner.messenger, owner.respondentID),
		backend.Z{Score: float64(dialogID), Member: int64(dialogID)}).Result()
	if err != nil {
		return false, fmt.Errorf("failed to pause dialog: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	record, err := json.Marshal(domain.PauseRecord{DialogID: dialogID, CreatedAt: time.Now().UTC(), Active: true})
	if err != nil {
		return false, fmt.Errorf("failed to marshal pause: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.ZRem(ctx, s.openKey(owner.messenger, owner.respondentID), int64(dialogID))
		pipe.LPush(ctx, s.dialogKey(dialogID)+":pauses", record)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to pause dialog: %w", err)
	}
	return true, nil
}

func (s *Store) CancelPause(ctx context.Context, dialogID domain.DialogID) (bool, error) {
	owner, err := s.owner(ctx, dialogID)
	if err != nil {
		return false, err
	}
	removed, err := s.client.ZRem(ctx, s.pausedKey(owner.messenger, owner.respondentID), int64(dialogID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to cancel pause: %w", err)
	}
	if removed == 0 {
		return false, nil
	}

	pausesKey := s.dialogKey(dialogID) + ":pauses"
	var record domain.PauseRecord
	if raw, err := s.client.LIndex(ctx, pausesKey, 0).Result(); err == nil {
		_ = json.Unmarshal([]byte(raw), &record)
	} else if !errors.Is(err, backend.Nil) {
		return false, fmt.Errorf("failed to read pause: %w", err)
	}
	now := time.Now().UTC()
	record.DialogID = dialogID
	record.FinishedAt = &now
	record.Active = false
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal pause: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.LSet(ctx, pausesKey, 0, data)
		if !owner.finished {
			pipe.ZAdd(ctx, s.openKey(owner.messenger, owner.respondentID), backend.Z{Score: float64(dialogID), Member: int64(dialogID)})
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to cancel pause: %w", err)
	}
	return true, nil
}

// Pauses returns the pause history of a dialog, the most recent first.
func (s *Store) Pauses(ctx context.Context, dialogID domain.DialogID) ([]domain.PauseRecord, error) {
	raw, err := s.client.LRange(ctx, s.dialogKey(dialogID)+":pauses", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load pauses: %w", err)
	}
	records := make([]domain.PauseRecord, 0, len(raw))
	for _, item := range raw {
		var r domain.PauseRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pause: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// Retryable reports connection-level failures and transient server states.
func (s *Store) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrStorageUnavailable) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, prefix := range []string{"LOADING ", "READONLY ", "TRYAGAIN ", "CLUSTERDOWN ", "MASTERDOWN "} {
		if strings.Contains(msg, prefix) {
			return true
		}
	}
	return false
}
