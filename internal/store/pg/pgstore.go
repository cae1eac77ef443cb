package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/doutyacodes/knockster-org/internal/access"
)

// Store implements access.Store on Postgres. Get-or-create and consume
// operations take a row lock on the owning invitation so concurrent requests
// serialize per invitation instead of racing on inserts.
type Store struct {
	db *sql.DB
}

var _ access.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle. Used by tests and the migration tool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateInvitation(ctx context.Context, inv access.Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		insert into invitations(id, guest_id, employee_name, employee_phone, valid_from, valid_to, security_level, status, org_node_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, inv.ID, inv.GuestID, inv.EmployeeName, inv.EmployeePhone, inv.ValidFrom, inv.ValidTo, int(inv.SecurityLevel), string(inv.Status), inv.OrgNodeID, inv.CreatedAt)
	return err
}

const invitationColumns = `id, guest_id, employee_name, employee_phone, valid_from, valid_to, security_level, status, org_node_id, created_at`

func scanInvitation(row interface{ Scan(...any) error }) (access.Invitation, error) {
	var inv access.Invitation
	var level int
	var status string
	err := row.Scan(&inv.ID, &inv.GuestID, &inv.EmployeeName, &inv.EmployeePhone, &inv.ValidFrom, &inv.ValidTo, &level, &status, &inv.OrgNodeID, &inv.CreatedAt)
	if err != nil {
		return access.Invitation{}, err
	}
	inv.SecurityLevel = access.SecurityLevel(level)
	inv.Status = access.Status(status)
	return inv, nil
}

func (s *Store) GetInvitation(ctx context.Context, id string) (access.Invitation, error) {
	row := s.db.QueryRowContext(ctx, `select `+invitationColumns+` from invitations where id=$1`, id)
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Invitation{}, access.ErrInvitationNotFound
	}
	return inv, err
}

func (s *Store) ListInvitations(ctx context.Context, orgNodeID string) ([]access.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+invitationColumns+`
		from invitations
		where ($1 = '' or org_node_id = $1)
		order by created_at desc
	`, orgNodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []access.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

func (s *Store) UpdateInvitationStatus(ctx context.Context, id string, status access.Status) error {
	res, err := s.db.ExecContext(ctx, `update invitations set status=$2 where id=$1`, id, string(status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrInvitationNotFound
	}
	return nil
}

func (s *Store) DeleteInvitation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from otps where invitation_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from qr_sessions where invitation_id=$1`, id); err != nil {
		return err
	}
	// scan_events carry no foreign key and stay behind on purpose.
	res, err := tx.ExecContext(ctx, `delete from invitations where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrInvitationNotFound
	}
	return tx.Commit()
}

// InvitationsForGuest deliberately ignores the cached pending/active/expired
// status: nothing persists window transitions, so the caller resolves them
// against the clock. Only revocation is trusted as stored.
func (s *Store) InvitationsForGuest(ctx context.Context, guestID string) ([]access.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+invitationColumns+`
		from invitations
		where guest_id=$1 and status <> 'revoked'
		order by security_level asc
	`, guestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []access.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

func (s *Store) CreateGuest(ctx context.Context, g access.Guest) error {
	_, err := s.db.ExecContext(ctx, `
		insert into guests(id, name, phone, created_at) values ($1,$2,$3,$4)
	`, g.ID, g.Name, g.Phone, g.CreatedAt)
	return err
}

func (s *Store) GetGuest(ctx context.Context, id string) (access.Guest, error) {
	var g access.Guest
	err := s.db.QueryRowContext(ctx, `select id, name, phone, created_at from guests where id=$1`, id).
		Scan(&g.ID, &g.Name, &g.Phone, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Guest{}, access.ErrGuestNotFound
	}
	return g, err
}

func (s *Store) FindGuestByPhone(ctx context.Context, phone string) (access.Guest, error) {
	var g access.Guest
	err := s.db.QueryRowContext(ctx, `select id, name, phone, created_at from guests where phone=$1`, phone).
		Scan(&g.ID, &g.Name, &g.Phone, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Guest{}, access.ErrGuestNotFound
	}
	return g, err
}

func (s *Store) UpdateGuestName(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, `update guests set name=$2 where id=$1`, id, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrGuestNotFound
	}
	return nil
}

func (s *Store) CreateGuard(ctx context.Context, g access.Guard) error {
	_, err := s.db.ExecContext(ctx, `
		insert into guards(id, username, status, org_node_id, created_at) values ($1,$2,$3,$4,$5)
	`, g.ID, g.Username, string(g.Status), g.OrgNodeID, g.CreatedAt)
	return err
}

func (s *Store) GetGuard(ctx context.Context, id string) (access.Guard, error) {
	var g access.Guard
	var status string
	err := s.db.QueryRowContext(ctx, `select id, username, status, org_node_id, created_at from guards where id=$1`, id).
		Scan(&g.ID, &g.Username, &status, &g.OrgNodeID, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Guard{}, access.ErrGuardNotFound
	}
	if err != nil {
		return access.Guard{}, err
	}
	g.Status = access.GuardStatus(status)
	return g, nil
}

func (s *Store) CreateOrgNode(ctx context.Context, n access.OrgNode) error {
	_, err := s.db.ExecContext(ctx, `
		insert into org_nodes(id, parent_id, name, type) values ($1, nullif($2,''), $3, $4)
	`, n.ID, n.ParentID, n.Name, n.Type)
	return err
}

func (s *Store) GetOrgNode(ctx context.Context, id string) (access.OrgNode, error) {
	var n access.OrgNode
	err := s.db.QueryRowContext(ctx, `select id, coalesce(parent_id,''), name, type from org_nodes where id=$1`, id).
		Scan(&n.ID, &n.ParentID, &n.Name, &n.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return access.OrgNode{}, access.ErrOrgNodeNotFound
	}
	return n, err
}

// lockInvitation serializes credential writes per invitation.
func lockInvitation(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `select 1 from invitations where id=$1 for update`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return access.ErrInvitationNotFound
	}
	return err
}

func (s *Store) GetOrCreateQRSession(ctx context.Context, candidate access.QRSession, now time.Time) (access.QRSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.QRSession{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockInvitation(ctx, tx, candidate.InvitationID); err != nil {
		return access.QRSession{}, err
	}

	var live access.QRSession
	err = tx.QueryRowContext(ctx, `
		select id, invitation_id, secret, expires_at, created_at
		from qr_sessions
		where invitation_id=$1 and expires_at > $2
		order by created_at desc
		limit 1
	`, candidate.InvitationID, now).Scan(&live.ID, &live.InvitationID, &live.Secret, &live.ExpiresAt, &live.CreatedAt)
	if err == nil {
		return live, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return access.QRSession{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into qr_sessions(id, invitation_id, secret, expires_at, created_at)
		values ($1,$2,$3,$4,$5)
	`, candidate.ID, candidate.InvitationID, candidate.Secret, candidate.ExpiresAt, candidate.CreatedAt); err != nil {
		return access.QRSession{}, err
	}
	return candidate, tx.Commit()
}

func (s *Store) FindQRSession(ctx context.Context, invitationID, secret string) (access.QRSession, error) {
	var sess access.QRSession
	err := s.db.QueryRowContext(ctx, `
		select id, invitation_id, secret, expires_at, created_at
		from qr_sessions
		where invitation_id=$1 and secret=$2
		order by created_at desc
		limit 1
	`, invitationID, secret).Scan(&sess.ID, &sess.InvitationID, &sess.Secret, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.QRSession{}, access.ErrQRSessionNotFound
	}
	return sess, err
}

func (s *Store) LatestQRSession(ctx context.Context, invitationID string) (access.QRSession, error) {
	var sess access.QRSession
	err := s.db.QueryRowContext(ctx, `
		select id, invitation_id, secret, expires_at, created_at
		from qr_sessions
		where invitation_id=$1
		order by created_at desc
		limit 1
	`, invitationID).Scan(&sess.ID, &sess.InvitationID, &sess.Secret, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.QRSession{}, access.ErrQRSessionNotFound
	}
	return sess, err
}

func (s *Store) GetOrCreateOTP(ctx context.Context, candidate access.OTP, now time.Time) (access.OTP, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.OTP{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockInvitation(ctx, tx, candidate.InvitationID); err != nil {
		return access.OTP{}, err
	}

	var live access.OTP
	err = tx.QueryRowContext(ctx, `
		select id, invitation_id, code, expires_at, verified, created_at
		from otps
		where invitation_id=$1 and not verified and expires_at > $2
		order by created_at desc
		limit 1
	`, candidate.InvitationID, now).Scan(&live.ID, &live.InvitationID, &live.Code, &live.ExpiresAt, &live.Verified, &live.CreatedAt)
	if err == nil {
		return live, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return access.OTP{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into otps(id, invitation_id, code, expires_at, verified, created_at)
		values ($1,$2,$3,$4,false,$5)
	`, candidate.ID, candidate.InvitationID, candidate.Code, candidate.ExpiresAt, candidate.CreatedAt); err != nil {
		return access.OTP{}, err
	}
	return candidate, tx.Commit()
}

func (s *Store) ReplaceOTP(ctx context.Context, candidate access.OTP) (access.OTP, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.OTP{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockInvitation(ctx, tx, candidate.InvitationID); err != nil {
		return access.OTP{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		delete from otps where invitation_id=$1 and not verified
	`, candidate.InvitationID); err != nil {
		return access.OTP{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into otps(id, invitation_id, code, expires_at, verified, created_at)
		values ($1,$2,$3,$4,false,$5)
	`, candidate.ID, candidate.InvitationID, candidate.Code, candidate.ExpiresAt, candidate.CreatedAt); err != nil {
		return access.OTP{}, err
	}
	return candidate, tx.Commit()
}

func (s *Store) ConsumeOTP(ctx context.Context, invitationID, code string, now time.Time) (access.OTPOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockInvitation(ctx, tx, invitationID); err != nil {
		return 0, err
	}

	var id string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, `
		select id, expires_at
		from otps
		where invitation_id=$1 and code=$2 and not verified
		order by created_at desc
		limit 1
	`, invitationID, code).Scan(&id, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.OTPWrongCode, tx.Commit()
	}
	if err != nil {
		return 0, err
	}
	if !expiresAt.After(now) {
		return access.OTPExpired, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `update otps set verified=true where id=$1`, id); err != nil {
		return 0, err
	}
	return access.OTPAccepted, tx.Commit()
}

func (s *Store) AppendScanEvent(ctx context.Context, ev access.ScanEvent) error {
	_, err := s.db.ExecContext(ctx, `
		insert into scan_events(id, invitation_id, guard_id, security_level, success, failure_reason, created_at)
		values ($1,$2,nullif($3,''),$4,$5,nullif($6,''),$7)
	`, ev.ID, ev.InvitationID, ev.GuardID, int(ev.SecurityLevel), ev.Success, ev.FailureReason, ev.CreatedAt)
	return err
}

func (s *Store) ListScanEvents(ctx context.Context, f access.ScanEventFilter) ([]access.ScanEvent, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var since sql.NullTime
	if !f.Since.IsZero() {
		since = sql.NullTime{Time: f.Since, Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, invitation_id, coalesce(guard_id,''), security_level, success, coalesce(failure_reason,''), created_at
		from scan_events
		where ($1 = '' or invitation_id = $1)
		  and ($2 = '' or guard_id = $2)
		  and (not $3 or not success)
		  and ($4::timestamptz is null or created_at >= $4)
		order by created_at desc, id desc
		limit $5
	`, f.InvitationID, f.GuardID, f.FailedOnly, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []access.ScanEvent
	for rows.Next() {
		var ev access.ScanEvent
		var level int
		if err := rows.Scan(&ev.ID, &ev.InvitationID, &ev.GuardID, &level, &ev.Success, &ev.FailureReason, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.SecurityLevel = access.SecurityLevel(level)
		res = append(res, ev)
	}
	return res, rows.Err()
}
