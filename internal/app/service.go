package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"accord/api/internal/archive"
	"accord/api/internal/auth"
	"accord/api/internal/authpw"
	"accord/api/internal/blob"
	"accord/api/internal/config"
	"accord/api/internal/email"
	"accord/api/internal/engine"
	"accord/api/internal/export"
	"accord/api/internal/keys"
	"accord/api/internal/record"
	"accord/api/internal/search"
	"accord/api/internal/store"
	"accord/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	PartyID      string
	PartyName    string
	PubKey       string
	JTI          string
	ExpiresAt    time.Time
}

type CreateAgreementInput struct {
	Title           string   `json:"title"`
	BodyText        string   `json:"bodyText"`
	RequiredSigners []string `json:"requiredSigners"`
	SignersRequired int      `json:"signersRequired"`
	SignNow         bool     `json:"signNow"`
}

// AgreementView is the reduced state of one lineage plus derived fields the
// API exposes alongside it.
type AgreementView struct {
	CorrelationTag string               `json:"correlationTag"`
	State          engine.DocumentState `json:"state"`
	Status         string               `json:"status"`
	Awaiting       []string             `json:"awaiting"`
	RecordCount    int                  `json:"recordCount"`
}

// SignatureCheck is the verification verdict for one signature on the
// latest revision.
type SignatureCheck struct {
	SignerID string `json:"signerId"`
	SignedAt int64  `json:"signedAt"`
	Valid    bool   `json:"valid"`
}

// VerificationReport covers the latest revision of a lineage: the content
// hash check plus a cryptographic check of every signature on it.
type VerificationReport struct {
	CorrelationTag string           `json:"correlationTag"`
	RecordID       string           `json:"recordId"`
	ContentOK      bool             `json:"contentOk"`
	AllValid       bool             `json:"allValid"`
	Complete       bool             `json:"complete"`
	Signatures     []SignatureCheck `json:"signatures"`
}

type dataStore interface {
	PublishRecord(context.Context, record.Record) (record.Record, error)
	ListRecordsByTag(context.Context, string) ([]record.Record, error)
	GetRecord(context.Context, string) (record.Record, error)
	ListLineages(context.Context) ([]store.Lineage, error)
	CreateParty(context.Context, store.Party) error
	GetPartyByEmail(context.Context, string) (store.Party, error)
	GetPartyByID(context.Context, string) (store.Party, error)
	GetPartyByPubKey(context.Context, string) (store.Party, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.Party, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

type lineageArchive interface {
	AppendRecord(record.Record) error
	History(string, int) ([]archive.CommitInfo, error)
	Replay(string) ([]record.Record, error)
}

type recordRelay interface {
	Publish(context.Context, record.Record) error
	Fetch(context.Context, string) ([]record.Record, error)
	Subscribe(context.Context, string) (<-chan string, error)
}

type sessionCache interface {
	SaveRefreshSession(context.Context, string, store.Party, time.Time) error
	LookupRefreshSession(context.Context, string) (store.Party, error)
	RevokeRefreshSession(context.Context, string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	engine   *engine.Engine
	archive  lineageArchive
	relay    recordRelay
	sessions sessionCache
	search   *search.Service
	exporter *export.Service
	blob     *blob.Store
	accounts *authpw.Service
	mail     *email.Service
	baseURL  string
}

func New(cfg config.Config, dataStore *store.PostgresStore, lineages *archive.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		engine:   engine.New(),
		archive:  lineages,
		exporter: export.NewService(),
		accounts: authpw.NewService(dataStore, keys.NewKeystore(cfg.KeystoreSecret)),
	}
}

// WithRelay attaches the Redis record relay. Without it, reduction sees
// only locally stored records.
func (s *Service) WithRelay(r recordRelay) *Service {
	s.relay = r
	return s
}

// WithSessions attaches the Redis refresh-token cache. Without it, refresh
// sessions fall back to Postgres.
func (s *Service) WithSessions(c sessionCache) *Service {
	s.sessions = c
	return s
}

func (s *Service) WithSearch(svc *search.Service) *Service {
	s.search = svc
	return s
}

func (s *Service) WithBlob(b *blob.Store) *Service {
	s.blob = b
	return s
}

func (s *Service) WithMail(m *email.Service) *Service {
	s.mail = m
	return s
}

// WithBaseURL sets the public URL used in notification links.
func (s *Service) WithBaseURL(u string) *Service {
	s.baseURL = u
	return s
}

func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	lineages, err := s.store.ListLineages(ctx)
	if err != nil {
		return fmt.Errorf("list lineages: %w", err)
	}
	log.Printf("bootstrap: %d agreement lineages on record", len(lineages))

	if s.search != nil {
		go s.search.ReindexAllFromPG(context.Background())
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- sessions ---

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	resp, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, resp.Party)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	party, err := s.accounts.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, party)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)

	var party store.Party
	var err error
	if s.sessions != nil {
		party, err = s.sessions.LookupRefreshSession(ctx, tokenHash)
	} else {
		party, err = s.store.LookupRefreshSession(ctx, tokenHash)
	}
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	if err := s.revokeRefresh(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, party)
}

func (s *Service) issueSession(ctx context.Context, party store.Party) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:    party.ID,
		Name:   party.DisplayName,
		PubKey: party.PubKey,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	tokenHash := auth.HashToken(refresh)
	if s.sessions != nil {
		err = s.sessions.SaveRefreshSession(ctx, tokenHash, party, refreshExpires)
	} else {
		err = s.store.SaveRefreshSession(ctx, tokenHash, party.ID, refreshExpires)
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		PartyID:      party.ID,
		PartyName:    party.DisplayName,
		PubKey:       party.PubKey,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	party, err := s.store.GetPartyByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		PartyID:   party.ID,
		PartyName: party.DisplayName,
		PubKey:    party.PubKey,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.revokeRefresh(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) revokeRefresh(ctx context.Context, tokenHash string) error {
	if s.sessions != nil {
		return s.sessions.RevokeRefreshSession(ctx, tokenHash)
	}
	return s.store.RevokeRefreshSession(ctx, tokenHash)
}

// --- agreements ---

func (s *Service) CreateAgreement(ctx context.Context, session Session, input CreateAgreementInput) (record.Record, error) {
	signersRequired := input.SignersRequired
	if signersRequired == 0 {
		signersRequired = len(input.RequiredSigners)
	}

	now := time.Now().Unix()
	rec := record.Record{
		CorrelationTag:  util.NewTag(),
		AuthorID:        session.PubKey,
		PublishedAt:     now,
		RequiredSigners: input.RequiredSigners,
		Payload: record.DocumentBody{
			DocumentID:      record.ContentID(input.BodyText),
			Title:           input.Title,
			BodyText:        input.BodyText,
			Version:         1,
			CreatedAt:       now,
			SignersRequired: signersRequired,
		},
	}

	if input.SignNow {
		party, err := s.store.GetPartyByID(ctx, session.PartyID)
		if err != nil {
			return record.Record{}, err
		}
		kp, err := s.accounts.UnlockKeypair(party)
		if err != nil {
			return record.Record{}, err
		}
		rec.Payload.Signatures = append(rec.Payload.Signatures, record.SignatureEntry{
			SignerID:       party.PubKey,
			SignatureBytes: kp.Sign(rec.Payload.DocumentID),
			SignedAt:       now,
		})
	}

	if err := rec.Validate(); err != nil {
		return record.Record{}, domainError(http.StatusBadRequest, "VALIDATION", "Invalid agreement", err)
	}

	published, err := s.publish(ctx, rec)
	if err != nil {
		return record.Record{}, err
	}

	s.notifySignatureRequests(published)
	return published, nil
}

func (s *Service) ListAgreements(ctx context.Context) ([]store.Lineage, error) {
	return s.store.ListLineages(ctx)
}

func (s *Service) GetAgreement(ctx context.Context, tag string) (AgreementView, error) {
	records, err := s.collectRecords(ctx, tag)
	if err != nil {
		return AgreementView{}, err
	}

	state, err := engine.Reduce(records)
	if err != nil {
		return AgreementView{}, err
	}

	return buildView(tag, state, len(records)), nil
}

func (s *Service) GetRecord(ctx context.Context, recordID string) (record.Record, error) {
	return s.store.GetRecord(ctx, recordID)
}

func (s *Service) Sign(ctx context.Context, session Session, tag string) (record.Record, error) {
	party, err := s.store.GetPartyByID(ctx, session.PartyID)
	if err != nil {
		return record.Record{}, err
	}

	records, err := s.collectRecords(ctx, tag)
	if err != nil {
		return record.Record{}, err
	}
	state, err := engine.Reduce(records)
	if err != nil {
		return record.Record{}, err
	}

	if !state.Forked && !state.Latest.RequiresSignatureOf(party.PubKey) {
		return record.Record{}, domainError(http.StatusForbidden, "NOT_A_SIGNER",
			"You are not a required signer on this agreement", nil)
	}

	kp, err := s.accounts.UnlockKeypair(party)
	if err != nil {
		return record.Record{}, err
	}

	rec, err := s.engine.AppendSignature(state, party.PubKey, kp.Sign)
	if err != nil {
		return record.Record{}, err
	}

	published, err := s.publish(ctx, rec)
	if err != nil {
		return record.Record{}, err
	}

	if len(published.Payload.Signatures) >= published.Payload.SignersRequired {
		s.notifyCompletion(published)
	}
	return published, nil
}

func (s *Service) Merge(ctx context.Context, session Session, tag string) (record.Record, error) {
	records, err := s.collectRecords(ctx, tag)
	if err != nil {
		return record.Record{}, err
	}
	state, err := engine.Reduce(records)
	if err != nil {
		return record.Record{}, err
	}

	rec, err := s.engine.MergeForks(records, state.Forks, session.PubKey)
	if err != nil {
		return record.Record{}, err
	}

	return s.publish(ctx, rec)
}

// History returns the reduced record history newest-first, plus the commit
// trail from the git archive when one is attached.
func (s *Service) History(ctx context.Context, tag string, limit int) ([]record.Record, []archive.CommitInfo, error) {
	records, err := s.collectRecords(ctx, tag)
	if err != nil {
		return nil, nil, err
	}
	state, err := engine.Reduce(records)
	if err != nil {
		return nil, nil, err
	}

	history := state.History
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}

	var commits []archive.CommitInfo
	if s.archive != nil {
		commits, err = s.archive.History(tag, limit)
		if err != nil {
			log.Printf("history: archive trail for %s: %v", tag, err)
			commits = nil
		}
	}
	return history, commits, nil
}

func (s *Service) Verify(ctx context.Context, tag string) (VerificationReport, error) {
	records, err := s.collectRecords(ctx, tag)
	if err != nil {
		return VerificationReport{}, err
	}
	state, err := engine.Reduce(records)
	if err != nil {
		return VerificationReport{}, err
	}
	if state.Forked {
		return VerificationReport{}, &engine.UnresolvedForkError{Forks: state.Forks}
	}

	report := VerificationReport{
		CorrelationTag: tag,
		RecordID:       state.Latest.RecordID,
		ContentOK:      state.Latest.Payload.VerifyContent(),
		Complete:       state.Complete,
		AllValid:       true,
	}
	for _, sig := range state.Latest.Payload.Signatures {
		valid := keys.Verify(sig.SignerID, state.Latest.Payload.DocumentID, sig.SignatureBytes)
		if !valid {
			report.AllValid = false
		}
		report.Signatures = append(report.Signatures, SignatureCheck{
			SignerID: sig.SignerID,
			SignedAt: sig.SignedAt,
			Valid:    valid,
		})
	}
	if !report.ContentOK {
		report.AllValid = false
	}
	return report, nil
}

// ExportCertificate renders the signing certificate and, when blob storage
// is attached, uploads it and returns a time-limited download URL.
func (s *Service) ExportCertificate(ctx context.Context, tag string, format export.Format, includeHistory bool) (*export.Result, string, error) {
	records, err := s.collectRecords(ctx, tag)
	if err != nil {
		return nil, "", err
	}
	state, err := engine.Reduce(records)
	if err != nil {
		return nil, "", err
	}
	if state.Forked {
		return nil, "", &engine.UnresolvedForkError{Forks: state.Forks}
	}

	cert := export.Certificate{
		CorrelationTag:  tag,
		Title:           state.Latest.Payload.Title,
		BodyText:        state.Latest.Payload.BodyText,
		ContentID:       state.Latest.Payload.DocumentID,
		Version:         state.Latest.Payload.Version,
		SignersRequired: state.Latest.Payload.SignersRequired,
		Complete:        state.Complete,
	}
	for _, sig := range state.Latest.Payload.Signatures {
		name := ""
		if party, err := s.store.GetPartyByPubKey(ctx, sig.SignerID); err == nil {
			name = party.DisplayName
		}
		cert.Signatures = append(cert.Signatures, export.CertificateSignature{
			SignerID:   sig.SignerID,
			SignerName: name,
			SignedAt:   time.Unix(sig.SignedAt, 0),
			Verified:   keys.Verify(sig.SignerID, state.Latest.Payload.DocumentID, sig.SignatureBytes),
		})
	}
	if includeHistory {
		for _, rec := range state.History {
			cert.History = append(cert.History, export.CertificateRevision{
				RecordID:    rec.RecordID,
				AuthorID:    rec.AuthorID,
				PublishedAt: rec.PublishedTime(),
				ContentID:   rec.Payload.DocumentID,
				Signatures:  len(rec.Payload.Signatures),
			})
		}
	}

	result, err := s.exporter.Export(cert, format)
	if err != nil {
		return nil, "", err
	}

	var url string
	if s.blob != nil {
		key, err := s.blob.PutCertificate(ctx, tag, result.Filename, result.MimeType, result.Data)
		if err != nil {
			log.Printf("export: archive certificate for %s: %v", tag, err)
		} else if url, err = s.blob.PresignedURL(ctx, key, 24*time.Hour); err != nil {
			log.Printf("export: presign certificate for %s: %v", tag, err)
			url = ""
		}
	}
	return result, url, nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// Watch subscribes to relay announcements for a lineage. The returned
// channel yields record ids and closes when ctx is done.
func (s *Service) Watch(ctx context.Context, tag string) (<-chan string, error) {
	if s.relay == nil {
		return nil, domainError(http.StatusServiceUnavailable, "RELAY_UNAVAILABLE",
			"Live updates are not configured", nil)
	}
	return s.relay.Subscribe(ctx, tag)
}

// --- internals ---

// publish persists a record and propagates it to the archive, relay, and
// search index. The store is authoritative; the rest is best-effort.
func (s *Service) publish(ctx context.Context, rec record.Record) (record.Record, error) {
	published, err := s.store.PublishRecord(ctx, rec)
	if err != nil {
		return record.Record{}, err
	}

	if s.archive != nil {
		if err := s.archive.AppendRecord(published); err != nil {
			log.Printf("publish: archive %s: %v", published.RecordID, err)
		}
	}
	if s.relay != nil {
		if err := s.relay.Publish(ctx, published); err != nil {
			log.Printf("publish: relay %s: %v", published.RecordID, err)
		}
	}
	if s.search != nil {
		s.search.IndexAgreement(search.AgreementRecord{
			CorrelationTag: published.CorrelationTag,
			Title:          published.Payload.Title,
			Body:           published.Payload.BodyText,
			Status:         statusOf(published),
			SignerNames:    published.Payload.SortedSigners(),
		})
	}

	// A fork only becomes visible on re-reduction: two publishers racing
	// from the same base each saw a clean state. The loser's re-read sees
	// both siblings and raises the alert.
	go s.alertIfForked(published)

	return published, nil
}

func (s *Service) alertIfForked(rec record.Record) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := s.collectRecords(ctx, rec.CorrelationTag)
	if err != nil {
		return
	}
	state, err := engine.Reduce(records)
	if err != nil || !state.Forked {
		return
	}

	url := fmt.Sprintf("%s/agreements/%s", s.baseURL, rec.CorrelationTag)
	for _, signer := range rec.RequiredSigners {
		party, err := s.store.GetPartyByPubKey(ctx, signer)
		if err != nil {
			continue
		}
		if err := s.mail.SendForkAlertEmail(party.Email, party.DisplayName, rec.Payload.Title, len(state.Forks), url); err != nil {
			log.Printf("notify: fork alert to %s: %v", party.ID, err)
		}
	}
}

// collectRecords unions the authoritative store with whatever the relay
// has mirrored, deduplicating by record id. Reduction tolerates partial
// sets, so a stale relay never corrupts the result.
func (s *Service) collectRecords(ctx context.Context, tag string) ([]record.Record, error) {
	records, err := s.store.ListRecordsByTag(ctx, tag)
	if err != nil {
		return nil, err
	}

	if s.relay != nil {
		mirrored, err := s.relay.Fetch(ctx, tag)
		if err != nil {
			log.Printf("collect: relay fetch %s: %v", tag, err)
		} else {
			seen := make(map[string]struct{}, len(records))
			for _, rec := range records {
				seen[rec.RecordID] = struct{}{}
			}
			for _, rec := range mirrored {
				if _, ok := seen[rec.RecordID]; !ok {
					records = append(records, rec)
				}
			}
		}
	}
	return records, nil
}

func buildView(tag string, state engine.DocumentState, recordCount int) AgreementView {
	view := AgreementView{
		CorrelationTag: tag,
		State:          state,
		Status:         "pending",
		Awaiting:       []string{},
		RecordCount:    recordCount,
	}
	switch {
	case state.Forked:
		view.Status = "forked"
	case state.Complete:
		view.Status = "complete"
	default:
		for _, signer := range state.Latest.RequiredSigners {
			if state.AwaitingSignatureOf(signer) {
				view.Awaiting = append(view.Awaiting, signer)
			}
		}
	}
	return view
}

func statusOf(rec record.Record) string {
	if len(rec.Payload.Signatures) >= rec.Payload.SignersRequired {
		return "complete"
	}
	return "pending"
}

func (s *Service) notifySignatureRequests(rec record.Record) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	go func() {
		for _, signer := range rec.RequiredSigners {
			if rec.Payload.HasSignatureOf(signer) {
				continue
			}
			party, err := s.store.GetPartyByPubKey(context.Background(), signer)
			if err != nil {
				continue
			}
			url := fmt.Sprintf("%s/agreements/%s", s.baseURL, rec.CorrelationTag)
			if err := s.mail.SendSignatureRequestEmail(party.Email, party.DisplayName, rec.Payload.Title, url); err != nil {
				log.Printf("notify: signature request to %s: %v", party.ID, err)
			}
		}
	}()
}

func (s *Service) notifyCompletion(rec record.Record) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	go func() {
		for _, signer := range rec.RequiredSigners {
			party, err := s.store.GetPartyByPubKey(context.Background(), signer)
			if err != nil {
				continue
			}
			url := fmt.Sprintf("%s/agreements/%s/export", s.baseURL, rec.CorrelationTag)
			if err := s.mail.SendCompletionEmail(party.Email, party.DisplayName, rec.Payload.Title, url); err != nil {
				log.Printf("notify: completion to %s: %v", party.ID, err)
			}
		}
	}()
}
