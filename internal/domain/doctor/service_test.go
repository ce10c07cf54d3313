package doctor

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/notification"
)

type memRepo struct {
	doctors   map[uuid.UUID]*Doctor
	schedules map[uuid.UUID][]DayAvailability
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors:   make(map[uuid.UUID]*Doctor),
		schedules: make(map[uuid.UUID][]DayAvailability),
	}
}

func (m *memRepo) Create(_ context.Context, d *Doctor) error {
	for _, existing := range m.doctors {
		if existing.UserID == d.UserID {
			return ErrAlreadyExists
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	cp := *d
	m.doctors[d.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Doctor, error) {
	for _, d := range m.doctors {
		if d.UserID == userID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) Update(_ context.Context, d *Doctor) error {
	if _, ok := m.doctors[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	m.doctors[d.ID] = &cp
	return nil
}

func (m *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.doctors[id]; !ok {
		return ErrNotFound
	}
	delete(m.doctors, id)
	return nil
}

func (m *memRepo) List(_ context.Context, status, specialty string, limit, offset int) ([]*Doctor, int, error) {
	var out []*Doctor
	for _, d := range m.doctors {
		if (status == "" || d.Status == status) && (specialty == "" || d.Specialty == specialty) {
			out = append(out, d)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) WeeklySchedule(_ context.Context, doctorID uuid.UUID) ([]DayAvailability, error) {
	if days, ok := m.schedules[doctorID]; ok {
		return days, nil
	}
	out := make([]DayAvailability, 7)
	for i := range out {
		out[i] = DayAvailability{Weekday: i}
	}
	return out, nil
}

func (m *memRepo) ReplaceWeeklySchedule(_ context.Context, doctorID uuid.UUID, days []DayAvailability) error {
	m.schedules[doctorID] = days
	return nil
}

type memBlockedRepo struct {
	slots map[uuid.UUID]*BlockedSlot
}

func newMemBlockedRepo() *memBlockedRepo {
	return &memBlockedRepo{slots: make(map[uuid.UUID]*BlockedSlot)}
}

func (m *memBlockedRepo) Create(_ context.Context, bs *BlockedSlot) error {
	if bs.ID == uuid.Nil {
		bs.ID = uuid.New()
	}
	cp := *bs
	m.slots[bs.ID] = &cp
	return nil
}

func (m *memBlockedRepo) Delete(_ context.Context, doctorID, id uuid.UUID) error {
	bs, ok := m.slots[id]
	if !ok || bs.DoctorID != doctorID {
		return ErrNotFound
	}
	delete(m.slots, id)
	return nil
}

func (m *memBlockedRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*BlockedSlot, error) {
	var out []*BlockedSlot
	for _, bs := range m.slots {
		if bs.DoctorID == doctorID {
			out = append(out, bs)
		}
	}
	return out, nil
}

func (m *memBlockedRepo) ListByDoctorAndWeekday(_ context.Context, doctorID uuid.UUID, weekday int) ([]*BlockedSlot, error) {
	var out []*BlockedSlot
	for _, bs := range m.slots {
		if bs.DoctorID == doctorID && bs.Weekday == weekday {
			out = append(out, bs)
		}
	}
	return out, nil
}

type fakeUsers struct {
	users   map[uuid.UUID]*identity.User
	deleted []uuid.UUID
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[uuid.UUID]*identity.User)}
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.users[id]; !ok {
		return identity.ErrNotFound
	}
	delete(f.users, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeNotifier struct {
	created []*notification.Notification
}

func (f *fakeNotifier) Create(_ context.Context, n *notification.Notification) error {
	f.created = append(f.created, n)
	return nil
}

type fakeMailer struct {
	sent []string
}

func (f *fakeMailer) SendTemplate(_ context.Context, templateID, to string, _ map[string]string) error {
	f.sent = append(f.sent, templateID+"->"+to)
	return nil
}

type fakeCanceller struct {
	visits []CancelledVisit
	calls  int
}

func (f *fakeCanceller) CancelActiveFrom(_ context.Context, _ uuid.UUID, _ time.Time, _ string, _ uuid.UUID) ([]CancelledVisit, error) {
	f.calls++
	return f.visits, nil
}

type noopTx struct{}

func (noopTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc       *Service
	repo      *memRepo
	users     *fakeUsers
	notifier  *fakeNotifier
	mailer    *fakeMailer
	canceller *fakeCanceller
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMemRepo(),
		users:     newFakeUsers(),
		notifier:  &fakeNotifier{},
		mailer:    &fakeMailer{},
		canceller: &fakeCanceller{},
	}
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	f.svc = NewService(f.repo, newMemBlockedRepo(), f.users, f.notifier, f.mailer, noopTx{}, logger)
	f.svc.SetCanceller(f.canceller)
	return f
}

func (f *fixture) addUser(role string) uuid.UUID {
	id := uuid.New()
	f.users.users[id] = &identity.User{ID: id, Email: id.String() + "@example.com", FullName: "Test User", Role: role}
	return id
}

func (f *fixture) addActiveDoctor(t *testing.T) *Doctor {
	t.Helper()
	userID := f.addUser(identity.RoleDoctor)
	d, err := f.svc.Register(context.Background(), userID, "cardiology", 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	d, err = f.svc.Approve(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	return d
}

func TestRegisterDefaultsAndValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	userID := f.addUser(identity.RoleDoctor)
	d, err := f.svc.Register(ctx, userID, "cardiology", 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if d.Status != StatusPending {
		t.Errorf("status = %q, want pending", d.Status)
	}
	if d.ConsultationDuration != DefaultConsultationMinutes {
		t.Errorf("duration = %d, want default %d", d.ConsultationDuration, DefaultConsultationMinutes)
	}

	if _, err := f.svc.Register(ctx, userID, "cardiology", 30); err != ErrAlreadyExists {
		t.Errorf("duplicate Register error = %v, want ErrAlreadyExists", err)
	}

	patientID := f.addUser(identity.RolePatient)
	if _, err := f.svc.Register(ctx, patientID, "cardiology", 30); err == nil {
		t.Error("expected error registering a non-doctor user")
	}

	docID2 := f.addUser(identity.RoleDoctor)
	if _, err := f.svc.Register(ctx, docID2, "", 30); err == nil {
		t.Error("expected error for missing specialty")
	}
	if _, err := f.svc.Register(ctx, docID2, "neurology", 3); err == nil {
		t.Error("expected error for too-short consultation duration")
	}
}

func TestApproveRejectPendingOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	userID := f.addUser(identity.RoleDoctor)
	d, _ := f.svc.Register(ctx, userID, "cardiology", 30)

	approved, err := f.svc.Approve(ctx, d.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != StatusActive {
		t.Errorf("status = %q, want active", approved.Status)
	}
	if len(f.notifier.created) != 1 {
		t.Errorf("got %d notifications, want 1", len(f.notifier.created))
	}

	if _, err := f.svc.Approve(ctx, d.ID); err != ErrNotPending {
		t.Errorf("second Approve error = %v, want ErrNotPending", err)
	}
	if _, err := f.svc.Reject(ctx, d.ID, "late application"); err != ErrNotPending {
		t.Errorf("Reject after approve error = %v, want ErrNotPending", err)
	}
}

func validWeek() []DayAvailability {
	days := make([]DayAvailability, 7)
	for i := range days {
		days[i] = DayAvailability{Weekday: i}
	}
	days[1] = DayAvailability{Weekday: 1, IsAvailable: true, Windows: []Window{
		{StartTime: "09:00", EndTime: "12:00"},
		{StartTime: "14:00", EndTime: "17:00"},
	}}
	return days
}

func TestUpdateWeeklyScheduleValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.addActiveDoctor(t)

	if err := f.svc.UpdateWeeklySchedule(ctx, d.ID, validWeek()); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func([]DayAvailability) []DayAvailability
	}{
		{"too few days", func(days []DayAvailability) []DayAvailability { return days[:6] }},
		{"duplicate weekday", func(days []DayAvailability) []DayAvailability {
			days[2].Weekday = 1
			return days
		}},
		{"overlapping windows", func(days []DayAvailability) []DayAvailability {
			days[1].Windows = []Window{{StartTime: "09:00", EndTime: "12:00"}, {StartTime: "11:00", EndTime: "13:00"}}
			return days
		}},
		{"start after end", func(days []DayAvailability) []DayAvailability {
			days[1].Windows = []Window{{StartTime: "12:00", EndTime: "09:00"}}
			return days
		}},
		{"bad time format", func(days []DayAvailability) []DayAvailability {
			days[1].Windows = []Window{{StartTime: "9am", EndTime: "12:00"}}
			return days
		}},
		{"available without windows", func(days []DayAvailability) []DayAvailability {
			days[1].Windows = nil
			return days
		}},
		{"unavailable with windows", func(days []DayAvailability) []DayAvailability {
			days[2].Windows = []Window{{StartTime: "09:00", EndTime: "10:00"}}
			return days
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := f.svc.UpdateWeeklySchedule(ctx, d.ID, tc.mutate(validWeek())); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBlockCascade(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.addActiveDoctor(t)
	admin := f.addUser(identity.RoleAdmin)

	patientA := uuid.New()
	patientB := uuid.New()
	f.canceller.visits = []CancelledVisit{
		{AppointmentID: uuid.New(), PatientID: patientA, Date: time.Now().AddDate(0, 0, 1), Time: "09:00"},
		{AppointmentID: uuid.New(), PatientID: patientA, Date: time.Now().AddDate(0, 0, 2), Time: "10:00"},
		{AppointmentID: uuid.New(), PatientID: patientB, Date: time.Now().AddDate(0, 0, 3), Time: "11:00"},
	}

	f.notifier.created = nil
	result, err := f.svc.Block(ctx, d.ID, admin, "repeated patient complaints")
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if result.CancelledAppointments != 3 {
		t.Errorf("CancelledAppointments = %d, want 3", result.CancelledAppointments)
	}
	if result.NotifiedPatients != 3 {
		t.Errorf("NotifiedPatients = %d, want 3", result.NotifiedPatients)
	}

	got, _ := f.svc.Get(ctx, d.ID)
	if !got.IsBlocked {
		t.Error("doctor not blocked")
	}
	if got.Status != StatusActive {
		t.Errorf("status = %q, blocking must not touch the approval status", got.Status)
	}
	if got.BlockedBy == nil || *got.BlockedBy != admin {
		t.Error("blocked_by not recorded")
	}

	// 3 patient notifications plus 1 to the doctor.
	if len(f.notifier.created) != 4 {
		t.Errorf("got %d notifications, want 4", len(f.notifier.created))
	}
	if len(f.mailer.sent) != 1 || !strings.HasPrefix(f.mailer.sent[0], "doctor-blocked->") {
		t.Errorf("mailer calls = %v, want one doctor-blocked email", f.mailer.sent)
	}

	if _, err := f.svc.Block(ctx, d.ID, admin, "still complaining here"); err != ErrAlreadyBlocked {
		t.Errorf("second Block error = %v, want ErrAlreadyBlocked", err)
	}
}

func TestBlockRejectsShortReason(t *testing.T) {
	f := newFixture()
	d := f.addActiveDoctor(t)
	admin := f.addUser(identity.RoleAdmin)

	if _, err := f.svc.Block(context.Background(), d.ID, admin, "bad"); err == nil {
		t.Fatal("expected error for short reason")
	}
	if f.canceller.calls != 0 {
		t.Error("cascade must not run when validation fails")
	}
}

func TestUnblock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.addActiveDoctor(t)
	admin := f.addUser(identity.RoleAdmin)

	if _, err := f.svc.Unblock(ctx, d.ID); err != ErrNotBlocked {
		t.Errorf("Unblock active doctor error = %v, want ErrNotBlocked", err)
	}

	if _, err := f.svc.Block(ctx, d.ID, admin, "temporary suspension"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	got, err := f.svc.Unblock(ctx, d.ID)
	if err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if got.IsBlocked || got.Status != StatusActive || got.BlockReason != "" {
		t.Errorf("block not cleared: %+v", got)
	}
}

func TestBlockUnblockPreservesApprovalStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	admin := f.addUser(identity.RoleAdmin)

	userID := f.addUser(identity.RoleDoctor)
	d, err := f.svc.Register(ctx, userID, "cardiology", 30)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Blocking a doctor awaiting approval must not mint them active on
	// unblock; the approval decision still has to happen.
	if _, err := f.svc.Block(ctx, d.ID, admin, "identity under review"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	got, _ := f.svc.Get(ctx, d.ID)
	if got.Status != StatusPending {
		t.Errorf("status after block = %q, want pending", got.Status)
	}

	if _, err := f.svc.Unblock(ctx, d.ID); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	got, _ = f.svc.Get(ctx, d.ID)
	if got.Status != StatusPending {
		t.Errorf("status after unblock = %q, want pending", got.Status)
	}
	if got.IsBlocked {
		t.Error("block not cleared")
	}
}

func TestDeleteRemovesDoctorAndUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.addActiveDoctor(t)
	admin := f.addUser(identity.RoleAdmin)

	f.canceller.visits = []CancelledVisit{
		{AppointmentID: uuid.New(), PatientID: uuid.New(), Date: time.Now().AddDate(0, 0, 1), Time: "09:00"},
	}

	result, err := f.svc.Delete(ctx, d.ID, admin)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if result.CancelledAppointments != 1 {
		t.Errorf("CancelledAppointments = %d, want 1", result.CancelledAppointments)
	}

	if _, err := f.svc.Get(ctx, d.ID); err != ErrNotFound {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
	if len(f.users.deleted) != 1 || f.users.deleted[0] != d.UserID {
		t.Errorf("user account not deleted: %v", f.users.deleted)
	}
}

func TestBlockedSlotValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.addActiveDoctor(t)

	bs := &BlockedSlot{DoctorID: d.ID, Weekday: 1, StartTime: "09:00", EndTime: "10:00"}
	if err := f.svc.AddBlockedSlot(ctx, bs); err != nil {
		t.Fatalf("AddBlockedSlot: %v", err)
	}

	outOfRange := &BlockedSlot{DoctorID: d.ID, Weekday: 7, StartTime: "09:00", EndTime: "10:00"}
	if err := f.svc.AddBlockedSlot(ctx, outOfRange); err == nil {
		t.Error("expected error for weekday out of range")
	}

	bad := &BlockedSlot{DoctorID: d.ID, Weekday: 1, StartTime: "10:00", EndTime: "09:00"}
	if err := f.svc.AddBlockedSlot(ctx, bad); err == nil {
		t.Error("expected error for inverted window")
	}
}
