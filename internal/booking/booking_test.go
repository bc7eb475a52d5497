package booking

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/NexusGPU/reserva/internal/allocator"
	"github.com/NexusGPU/reserva/internal/model"
	"github.com/NexusGPU/reserva/internal/notify"
	"github.com/NexusGPU/reserva/internal/store"
)

// capturingNotifier records every confirmation event it receives.
type capturingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *capturingNotifier) ReservationConfirmed(_ context.Context, r model.Reservation, user model.User, machine model.Machine) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notify.Event{
		Kind:        "reservation.confirmed",
		Reservation: r.ID,
		UserName:    user.Name,
		MachineName: machine.Name,
	})
	return nil
}

func (n *capturingNotifier) received() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

var _ = Describe("Booking Service", func() {
	var (
		ctx      context.Context
		st       *store.Store
		svc      *Service
		notifier *capturingNotifier
		now      time.Time
		member   model.User
		other    model.User
		admin    model.User
		machine  model.Machine
	)

	at := func(hour int) time.Time { return now.Add(time.Duration(hour) * time.Hour) }

	auditEntries := func() []model.AuditLog {
		svc.Flush()
		entries, err := st.Audit.ListRecent(ctx, 0)
		Expect(err).NotTo(HaveOccurred())
		return entries
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2030, time.January, 7, 0, 0, 0, 0, time.UTC)
		st = store.NewMemory()
		notifier = &capturingNotifier{}
		svc = NewService(st, notifier, zap.NewNop())
		svc.now = func() time.Time { return now }

		member = model.User{ID: "u-member", Account: "jdoe", Name: "J. Doe", Mail: "jdoe@example.org"}
		other = model.User{ID: "u-other", Account: "asmith", Name: "A. Smith"}
		admin = model.User{ID: "u-admin", Account: "root", Name: "Root", IsAdmin: true}
		for _, u := range []model.User{member, other, admin} {
			u := u
			Expect(st.Users.Create(ctx, &u)).To(Succeed())
		}

		m, err := model.NewMachine("ampere-01", 8, 32, model.GPUVector{24, 24})
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Machines.Create(ctx, m)).To(Succeed())
		machine = *m
	})

	// Drain dispatched audit/notify work before the next spec reassigns the
	// shared fixture state.
	AfterEach(func() {
		svc.Flush()
	})

	commit := func(actor model.User, req CommitRequest) (*model.Reservation, error) {
		if req.MachineID == "" {
			req.MachineID = machine.ID
		}
		if req.TaskName == "" {
			req.TaskName = "training run"
		}
		return svc.Commit(ctx, actor, req)
	}

	Describe("Commit", func() {
		It("stores the reservation and dispatches audit and notification", func() {
			r, err := commit(member, CommitRequest{
				BeginDate:     at(9),
				DurationHours: 2,
				CPUCores:      4,
				RAMGB:         16,
				GPURAMGB:      model.GPUVector{8, 0},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.EndingDate).To(Equal(at(11)))
			Expect(r.UserID).To(Equal(member.ID))

			stored, err := st.Reservations.Get(ctx, r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.TaskName).To(Equal("training run"))

			entries := auditEntries()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Action).To(Equal(model.ActionCreateReservation))
			Expect(entries[0].UserName).To(Equal(member.Name))
			Expect(entries[0].Entity).To(ContainSubstring(r.ID))

			events := notifier.received()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Reservation).To(Equal(r.ID))
			Expect(events[0].MachineName).To(Equal("ampere-01"))
		})

		It("rejects a beginning date in the past without side effects", func() {
			_, err := commit(member, CommitRequest{
				BeginDate:     now.Add(-time.Hour),
				DurationHours: 1,
				CPUCores:      2,
				RAMGB:         8,
			})
			Expect(model.IsValidation(err)).To(BeTrue())
			Expect(auditEntries()).To(BeEmpty())
			Expect(notifier.received()).To(BeEmpty())
		})

		It("rejects requests beyond the machine's nameplate capacity", func() {
			_, err := commit(member, CommitRequest{
				BeginDate:     at(9),
				DurationHours: 1,
				CPUCores:      16,
				RAMGB:         8,
			})
			Expect(model.IsValidation(err)).To(BeTrue())
		})

		It("rejects the second booking when residual capacity runs out", func() {
			_, err := commit(member, CommitRequest{
				BeginDate:     at(9),
				DurationHours: 3,
				CPUCores:      6,
				RAMGB:         24,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = commit(other, CommitRequest{
				BeginDate:     at(10),
				DurationHours: 1,
				CPUCores:      4,
				RAMGB:         8,
			})
			Expect(model.IsConflict(err)).To(BeTrue())

			// Only the first booking reached the store or the audit log.
			count, err := st.Reservations.CountForMachine(ctx, machine.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))
			Expect(auditEntries()).To(HaveLen(1))
		})

		It("admits a second booking that fits next to the first", func() {
			_, err := commit(member, CommitRequest{
				BeginDate:     at(9),
				DurationHours: 3,
				CPUCores:      6,
				RAMGB:         24,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = commit(other, CommitRequest{
				BeginDate:     at(10),
				DurationHours: 1,
				CPUCores:      2,
				RAMGB:         8,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("lets exactly one of two racing commits take the last capacity", func() {
			// Both requests want the machine's full CPU and RAM over
			// overlapping hours; the store's exclusivity scope must let one
			// through and reject the other.
			requests := []struct {
				actor model.User
				req   CommitRequest
			}{
				{member, CommitRequest{TaskName: "first", BeginDate: at(9), DurationHours: 2, CPUCores: 8, RAMGB: 32}},
				{other, CommitRequest{TaskName: "second", BeginDate: at(10), DurationHours: 2, CPUCores: 8, RAMGB: 32}},
			}

			errs := make([]error, len(requests))
			var wg sync.WaitGroup
			for i, r := range requests {
				wg.Add(1)
				go func(i int, actor model.User, req CommitRequest) {
					defer wg.Done()
					_, errs[i] = commit(actor, req)
				}(i, r.actor, r.req)
			}
			wg.Wait()

			var conflicts, wins int
			for _, err := range errs {
				switch {
				case err == nil:
					wins++
				case model.IsConflict(err):
					conflicts++
				default:
					Fail("unexpected commit error: " + err.Error())
				}
			}
			Expect(wins).To(Equal(1))
			Expect(conflicts).To(Equal(1))

			count, err := st.Reservations.CountForMachine(ctx, machine.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))
		})

		It("enforces per-device GPU capacity at commit time", func() {
			_, err := commit(member, CommitRequest{
				BeginDate:     at(9),
				DurationHours: 2,
				CPUCores:      1,
				RAMGB:         1,
				GPURAMGB:      model.GPUVector{20, 0},
			})
			Expect(err).NotTo(HaveOccurred())

			// 28 GB are free in total but only 4 remain on device 0.
			_, err = commit(other, CommitRequest{
				BeginDate:     at(9),
				DurationHours: 1,
				CPUCores:      1,
				RAMGB:         1,
				GPURAMGB:      model.GPUVector{8, 0},
			})
			Expect(model.IsConflict(err)).To(BeTrue())

			_, err = commit(other, CommitRequest{
				BeginDate:     at(9),
				DurationHours: 1,
				CPUCores:      1,
				RAMGB:         1,
				GPURAMGB:      model.GPUVector{0, 8},
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("refuses blocked machines", func() {
			_, err := st.Machines.SetBlocked(ctx, machine.ID, true)
			Expect(err).NotTo(HaveOccurred())

			_, err = commit(member, CommitRequest{
				BeginDate:     at(9),
				DurationHours: 1,
				CPUCores:      2,
				RAMGB:         8,
			})
			Expect(model.IsValidation(err)).To(BeTrue())
		})

		It("treats deleted machines as absent", func() {
			_, err := st.Machines.SetDeleted(ctx, machine.ID, true)
			Expect(err).NotTo(HaveOccurred())

			_, err = commit(member, CommitRequest{
				BeginDate:     at(9),
				DurationHours: 1,
				CPUCores:      2,
				RAMGB:         8,
			})
			Expect(model.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("Probe", func() {
		It("proposes slots a commit then accepts", func() {
			slots, err := svc.Probe(ctx, allocator.Request{
				WindowStart:   at(9),
				WindowEnd:     at(12),
				DurationHours: 1,
				CPUCores:      4,
				RAMGB:         16,
				GPURAMGB:      30,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(slots).To(HaveLen(3))

			pick := slots[0].Machines[0]
			Expect(pick.GPUAllocation.Sum()).To(Equal(int64(30)))

			_, err = commit(member, CommitRequest{
				MachineID:     pick.Machine.ID,
				BeginDate:     slots[0].StartTime,
				DurationHours: slots[0].DurationHours,
				CPUCores:      4,
				RAMGB:         16,
				GPURAMGB:      pick.GPUAllocation,
			})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Cancel", func() {
		var reservation *model.Reservation

		BeforeEach(func() {
			var err error
			reservation, err = commit(member, CommitRequest{
				BeginDate:     at(9),
				DurationHours: 2,
				CPUCores:      2,
				RAMGB:         8,
			})
			Expect(err).NotTo(HaveOccurred())
			svc.Flush()
		})

		It("lets the owner cancel before the reservation ends", func() {
			Expect(svc.Cancel(ctx, member, reservation.ID)).To(Succeed())
			_, err := st.Reservations.Get(ctx, reservation.ID)
			Expect(model.IsNotFound(err)).To(BeTrue())

			entries := auditEntries()
			Expect(entries[0].Action).To(Equal(model.ActionDeleteReservation))
		})

		It("refuses other members", func() {
			err := svc.Cancel(ctx, other, reservation.ID)
			Expect(model.IsAuthorization(err)).To(BeTrue())
		})

		It("refuses the owner once the reservation ended", func() {
			now = now.Add(12 * time.Hour)
			err := svc.Cancel(ctx, member, reservation.ID)
			Expect(model.IsAuthorization(err)).To(BeTrue())
		})

		It("lets an admin cancel anything, even ended", func() {
			now = now.Add(12 * time.Hour)
			Expect(svc.Cancel(ctx, admin, reservation.ID)).To(Succeed())
		})

		It("reports unknown reservations as not found", func() {
			err := svc.Cancel(ctx, member, "nope")
			Expect(model.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("ListForUser", func() {
		It("returns only the actor's reservations", func() {
			_, err := commit(member, CommitRequest{BeginDate: at(9), DurationHours: 1, CPUCores: 1, RAMGB: 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = commit(other, CommitRequest{BeginDate: at(9), DurationHours: 1, CPUCores: 1, RAMGB: 1})
			Expect(err).NotTo(HaveOccurred())

			mine, err := svc.ListForUser(ctx, member)
			Expect(err).NotTo(HaveOccurred())
			Expect(mine).To(HaveLen(1))
			Expect(mine[0].UserID).To(Equal(member.ID))
		})
	})

	Describe("Machine administration", func() {
		It("lets an admin add a machine and audits it", func() {
			m, err := svc.AddMachine(ctx, admin, "hopper-02", 64, 256, model.GPUVector{80, 80})
			Expect(err).NotTo(HaveOccurred())
			Expect(m.HasGPU).To(BeTrue())
			Expect(m.GPUCount).To(Equal(2))

			entries := auditEntries()
			Expect(entries[0].Action).To(Equal(model.ActionCreateMachine))
		})

		It("refuses non-admins", func() {
			_, err := svc.AddMachine(ctx, member, "hopper-02", 64, 256, nil)
			Expect(model.IsAuthorization(err)).To(BeTrue())
		})

		It("rejects invalid nameplate descriptions", func() {
			_, err := svc.AddMachine(ctx, admin, "", 64, 256, nil)
			Expect(model.IsValidation(err)).To(BeTrue())
			_, err = svc.AddMachine(ctx, admin, "hopper-02", 0, 256, nil)
			Expect(model.IsValidation(err)).To(BeTrue())
		})

		It("blocks and unblocks with matching audit actions", func() {
			m, err := svc.SetMachineBlocked(ctx, admin, machine.ID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Blocked).To(BeTrue())

			m, err = svc.SetMachineBlocked(ctx, admin, machine.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Blocked).To(BeFalse())

			entries := auditEntries()
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Action).To(Equal(model.ActionUnblockMachine))
			Expect(entries[1].Action).To(Equal(model.ActionBlockMachine))
		})

		It("refuses to delete a machine that reservations still reference", func() {
			_, err := commit(member, CommitRequest{BeginDate: at(9), DurationHours: 1, CPUCores: 1, RAMGB: 1})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.SetMachineDeleted(ctx, admin, machine.ID, true)
			Expect(model.IsConflict(err)).To(BeTrue())
		})

		It("soft-deletes, lists and restores", func() {
			_, err := svc.SetMachineDeleted(ctx, admin, machine.ID, true)
			Expect(err).NotTo(HaveOccurred())

			deleted, err := svc.DeletedMachines(ctx, admin)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(HaveLen(1))

			m, err := svc.SetMachineDeleted(ctx, admin, machine.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Deleted).To(BeFalse())
		})
	})

	Describe("SetAdminStatus", func() {
		It("grants and revokes for other users", func() {
			u, err := svc.SetAdminStatus(ctx, admin, member.ID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.IsAdmin).To(BeTrue())

			u, err = svc.SetAdminStatus(ctx, admin, member.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.IsAdmin).To(BeFalse())

			entries := auditEntries()
			Expect(entries[0].Action).To(Equal(model.ActionRevokeAdmin))
			Expect(entries[1].Action).To(Equal(model.ActionGrantAdmin))
		})

		It("refuses self-modification", func() {
			_, err := svc.SetAdminStatus(ctx, admin, admin.ID, true)
			Expect(model.IsAuthorization(err)).To(BeTrue())
		})

		It("refuses non-admins", func() {
			_, err := svc.SetAdminStatus(ctx, member, other.ID, true)
			Expect(model.IsAuthorization(err)).To(BeTrue())
		})
	})
})
