package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/NexusGPU/reserva/internal/model"
)

// Open connects to MySQL, migrates the schema and returns the wired store.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open mysql")
	}
	if err := db.AutoMigrate(&model.Machine{}, &model.Reservation{}, &model.User{}, &model.AuditLog{}); err != nil {
		return nil, pkgerrors.Wrap(err, "migrate schema")
	}
	return NewGorm(db), nil
}

// NewGorm wires a Store over an existing gorm DB handle.
func NewGorm(db *gorm.DB) *Store {
	return &Store{
		Machines:     &gormMachines{db: db},
		Reservations: &gormReservations{db: db},
		Users:        &gormUsers{db: db},
		Audit:        &gormAudit{db: db},
	}
}

// OpenConn wires a Store over an existing *sql.DB, used by tests that inject
// a mocked connection.
func OpenConn(conn *sql.DB) (*Store, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      conn,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open mysql conn")
	}
	return NewGorm(db), nil
}

type gormMachines struct {
	db *gorm.DB
}

func (s *gormMachines) ListActive(ctx context.Context, requireGPU bool) ([]model.Machine, error) {
	q := s.db.WithContext(ctx).Where("blocked = ? AND deleted = ?", false, false)
	if requireGPU {
		q = q.Where("has_gpu = ?", true)
	}
	var machines []model.Machine
	if err := q.Order("name").Find(&machines).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "list active machines")
	}
	return machines, nil
}

func (s *gormMachines) List(ctx context.Context) ([]model.Machine, error) {
	var machines []model.Machine
	if err := s.db.WithContext(ctx).Where("deleted = ?", false).Order("name").Find(&machines).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "list machines")
	}
	return machines, nil
}

func (s *gormMachines) ListDeleted(ctx context.Context) ([]model.Machine, error) {
	var machines []model.Machine
	if err := s.db.WithContext(ctx).Where("deleted = ?", true).Order("name").Find(&machines).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "list deleted machines")
	}
	return machines, nil
}

func (s *gormMachines) Get(ctx context.Context, id string) (*model.Machine, error) {
	var m model.Machine
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.NotFoundError{Kind: "machine", ID: id}
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get machine")
	}
	return &m, nil
}

func (s *gormMachines) Create(ctx context.Context, m *model.Machine) error {
	return pkgerrors.Wrap(s.db.WithContext(ctx).Create(m).Error, "create machine")
}

func (s *gormMachines) SetBlocked(ctx context.Context, id string, blocked bool) (*model.Machine, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Blocked = blocked
	if err := s.db.WithContext(ctx).Model(m).Update("blocked", blocked).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "update machine blocked flag")
	}
	return m, nil
}

func (s *gormMachines) SetDeleted(ctx context.Context, id string, deleted bool) (*model.Machine, error) {
	var m *model.Machine
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found model.Machine
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&found, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.NotFoundError{Kind: "machine", ID: id}
		}
		if err != nil {
			return pkgerrors.Wrap(err, "get machine")
		}
		if deleted && !found.Deleted {
			var refs int64
			if err := tx.Model(&model.Reservation{}).Where("machine_id = ?", id).Count(&refs).Error; err != nil {
				return pkgerrors.Wrap(err, "count machine references")
			}
			if refs > 0 {
				return model.Conflictf("machine %s is referenced by %d reservation(s) and cannot be deleted", found.Name, refs)
			}
		}
		found.Deleted = deleted
		if err := tx.Model(&found).Update("deleted", deleted).Error; err != nil {
			return pkgerrors.Wrap(err, "update machine deleted flag")
		}
		m = &found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

type gormReservations struct {
	db *gorm.DB
}

func (s *gormReservations) ListOverlapping(ctx context.Context, machineID string, start, end time.Time) ([]model.Reservation, error) {
	var reservations []model.Reservation
	err := s.db.WithContext(ctx).
		Where("machine_id = ? AND begin_date < ? AND ending_date > ?", machineID, end, start).
		Order("begin_date").
		Find(&reservations).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list overlapping reservations")
	}
	return reservations, nil
}

// Commit serializes against other commits on the same machine by taking a
// row lock on the machine before re-reading overlaps and running the gate.
func (s *gormReservations) Commit(ctx context.Context, r *model.Reservation, gate CommitGate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.Machine
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, "id = ?", r.MachineID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.NotFoundError{Kind: "machine", ID: r.MachineID}
		}
		if err != nil {
			return pkgerrors.Wrap(err, "lock machine")
		}
		var overlapping []model.Reservation
		err = tx.Where("machine_id = ? AND begin_date < ? AND ending_date > ?", r.MachineID, r.EndingDate, r.BeginDate).
			Find(&overlapping).Error
		if err != nil {
			return pkgerrors.Wrap(err, "list overlapping reservations")
		}
		if err := gate(m, overlapping); err != nil {
			return err
		}
		return pkgerrors.Wrap(tx.Create(r).Error, "create reservation")
	})
}

func (s *gormReservations) Get(ctx context.Context, id string) (*model.Reservation, error) {
	var r model.Reservation
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.NotFoundError{Kind: "reservation", ID: id}
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get reservation")
	}
	return &r, nil
}

func (s *gormReservations) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&model.Reservation{}, "id = ?", id)
	if res.Error != nil {
		return pkgerrors.Wrap(res.Error, "delete reservation")
	}
	if res.RowsAffected == 0 {
		return &model.NotFoundError{Kind: "reservation", ID: id}
	}
	return nil
}

func (s *gormReservations) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	var reservations []model.Reservation
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("begin_date").Find(&reservations).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list reservations by user")
	}
	return reservations, nil
}

func (s *gormReservations) ListInRange(ctx context.Context, start, end time.Time) ([]model.Reservation, error) {
	var reservations []model.Reservation
	err := s.db.WithContext(ctx).
		Where("begin_date >= ? AND begin_date <= ?", start, end).
		Order("begin_date").
		Find(&reservations).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list reservations in range")
	}
	return reservations, nil
}

func (s *gormReservations) CountForMachine(ctx context.Context, machineID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Reservation{}).Where("machine_id = ?", machineID).Count(&count).Error
	return count, pkgerrors.Wrap(err, "count reservations for machine")
}

type gormUsers struct {
	db *gorm.DB
}

func (s *gormUsers) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.NotFoundError{Kind: "user", ID: id}
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get user")
	}
	return &u, nil
}

func (s *gormUsers) GetByAccount(ctx context.Context, account string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).First(&u, "account = ?", account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.NotFoundError{Kind: "user", ID: account}
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get user by account")
	}
	return &u, nil
}

func (s *gormUsers) List(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("account").Find(&users).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "list users")
	}
	return users, nil
}

func (s *gormUsers) Create(ctx context.Context, u *model.User) error {
	return pkgerrors.Wrap(s.db.WithContext(ctx).Create(u).Error, "create user")
}

func (s *gormUsers) SetAdmin(ctx context.Context, id string, admin bool) (*model.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.IsAdmin = admin
	if err := s.db.WithContext(ctx).Model(u).Update("is_admin", admin).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "update user admin flag")
	}
	return u, nil
}

type gormAudit struct {
	db *gorm.DB
}

func (s *gormAudit) Append(ctx context.Context, entry model.AuditLog) error {
	return pkgerrors.Wrap(s.db.WithContext(ctx).Create(&entry).Error, "append audit log")
}

func (s *gormAudit) ListRecent(ctx context.Context, limit int) ([]model.AuditLog, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []model.AuditLog
	if err := q.Find(&entries).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "list audit log")
	}
	return entries, nil
}

func (s *gormAudit) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&model.AuditLog{}, "date < ?", cutoff)
	return res.RowsAffected, pkgerrors.Wrap(res.Error, "trim audit log")
}
