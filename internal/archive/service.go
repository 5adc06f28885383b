// Package archive keeps an independent, replayable copy of every observed
// record in a per-lineage git repository. The append-only log lives in
// Postgres; the archive exists so an operator can audit or replay a
// lineage's full history without database access, and so tampering with
// either copy is detectable by comparing the two.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"accord/api/internal/record"
)

const recordsDir = "records"

// CommitInfo describes one archived record commit.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// AppendRecord commits one record into the lineage's archive repository,
// initializing the repository on first use. Archiving the same record id
// twice is a no-op: records are immutable, so the first copy is the only
// copy there will ever be.
func (s *Service) AppendRecord(rec record.Record) error {
	if rec.RecordID == "" {
		return fmt.Errorf("refusing to archive record without id")
	}
	lock := s.lineageLock(rec.CorrelationTag)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(rec.CorrelationTag)
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	relPath := filepath.Join(recordsDir, rec.RecordID+".json")
	absPath := filepath.Join(root, relPath)
	if _, err := os.Stat(absPath); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat archived record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create records dir: %w", err)
	}
	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := os.WriteFile(absPath, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write record file: %w", err)
	}
	if _, err := worktree.Add(relPath); err != nil {
		return fmt.Errorf("git add record: %w", err)
	}

	message := fmt.Sprintf("Archive record %s", rec.RecordID)
	if len(rec.Payload.Signatures) > 0 {
		message = fmt.Sprintf("Archive record %s (%d signatures)", rec.RecordID, len(rec.Payload.Signatures))
	}
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  rec.AuthorID,
			Email: "archive@accord.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// History returns the lineage's archive commits, newest first.
func (s *Service) History(tag string, limit int) ([]CommitInfo, error) {
	lock := s.lineageLock(tag)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(tag))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve archive head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read archive log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, CommitInfo{
			Hash:      commitObj.Hash.String()[:7],
			Message:   commitObj.Message,
			Author:    commitObj.Author.Name,
			CreatedAt: commitObj.Author.When,
		})
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate archive log: %w", err)
	}
	return items, nil
}

// Replay reads back every archived record for a lineage from the working
// tree. The result is an independent copy of the log, suitable for
// cross-checking against the primary store.
func (s *Service) Replay(tag string) ([]record.Record, error) {
	lock := s.lineageLock(tag)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(s.repoPath(tag), recordsDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive records: %w", err)
	}

	records := make([]record.Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read archived record %s: %w", entry.Name(), err)
		}
		var rec record.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode archived record %s: %w", entry.Name(), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Service) repoPath(tag string) string {
	return filepath.Join(s.baseDir, tag)
}

func (s *Service) lineageLock(tag string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[tag]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[tag] = lock
	return lock
}

func (s *Service) ensureRepo(tag string) (*git.Repository, error) {
	path := s.repoPath(tag)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	readme := filepath.Join(path, "README.md")
	note := fmt.Sprintf("# Lineage %s\n\nAppend-only archive of observed records. Do not edit.\n", tag)
	if err := os.WriteFile(readme, []byte(note), 0o644); err != nil {
		return nil, fmt.Errorf("write archive readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return nil, fmt.Errorf("git add readme: %w", err)
	}
	hash, err := worktree.Commit("Initialize lineage archive", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "accord",
			Email: "archive@accord.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("commit archive init: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return nil, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}
