package pdr_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"pdrb/internal/archive"
	"pdrb/internal/housekeeping"
	"pdrb/internal/pdr"
	"pdrb/internal/testutil"
)

type harness struct {
	store     *testutil.MemoryRecordStore
	settings  *testutil.MemorySettings
	scheduler *testutil.FakeScheduler
	mailer    *testutil.RecordingMailer
	mirror    *testutil.MemoryMirror
	logger    *testutil.RecordingLogger
	clock     *testutil.StubClock
	dir       *housekeeping.Directory
	engine    *pdr.Engine
	jobs      *pdr.Jobs
	rec       *pdr.Reconciler
	svc       *pdr.Service
	allowed   bool
}

func newHarness(t *testing.T, cfg pdr.ScheduleConfig, hooks pdr.Hooks) *harness {
	t.Helper()

	h := &harness{
		store:     testutil.NewMemoryRecordStore(exportReq("a@example.com"), erasureReq("b@example.com")),
		settings:  testutil.NewMemorySettings(cfg),
		scheduler: testutil.NewFakeScheduler(),
		mailer:    testutil.NewRecordingMailer(),
		mirror:    testutil.NewMemoryMirror(),
		logger:    testutil.NewRecordingLogger(),
		clock:     testutil.FixedClock(),
		allowed:   true,
	}
	h.dir = housekeeping.NewDirectory(t.TempDir(), nil)

	engine := pdr.NewEngine(h.store, archive.NewCodec(time.UTC), h.dir, h.clock, h.logger, nil, pdr.EngineOptions{})
	h.engine = engine
	h.jobs = pdr.NewJobs(engine, h.dir, h.settings, h.mailer, h.logger, pdr.JobsOptions{
		Mirror:  h.mirror,
		SiteURL: "https://example.com",
		Hooks:   hooks,
		IDGen:   testutil.NewStubIDGenerator(),
	})
	h.rec = pdr.NewReconciler(h.scheduler, h.settings, h.jobs, h.clock, h.logger)
	h.svc = pdr.NewService(engine, h.settings, h.rec, h.scheduler, h.dir, func() bool { return h.allowed }, h.logger)
	return h
}

func TestReconciler_Reconcile(t *testing.T) {
	t.Run("enabled schedules both triggers", func(t *testing.T) {
		h := newHarness(t, pdr.ScheduleConfig{AutoExportEnabled: true, NotifyEmail: "ops@example.com"}, pdr.Hooks{})

		if err := h.rec.Reconcile(context.Background()); err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}

		export, ok := h.scheduler.Spec(pdr.AutoExportTrigger)
		if !ok {
			t.Fatal("auto-export not scheduled")
		}
		if !export.Start.Equal(h.clock.Now()) || export.Interval != pdr.Daily {
			t.Errorf("auto-export spec = %+v", export)
		}

		cleanup, ok := h.scheduler.Spec(pdr.CleanupTrigger)
		if !ok {
			t.Fatal("cleanup not scheduled")
		}
		if !cleanup.Start.Equal(h.clock.Now().Add(time.Hour)) || cleanup.Interval != pdr.Hourly {
			t.Errorf("cleanup spec = %+v", cleanup)
		}
	})

	t.Run("disabled schedules cleanup only", func(t *testing.T) {
		h := newHarness(t, pdr.ScheduleConfig{}, pdr.Hooks{})

		if err := h.rec.Reconcile(context.Background()); err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if h.scheduler.IsScheduled(pdr.AutoExportTrigger) {
			t.Error("auto-export scheduled while disabled")
		}
		if !h.scheduler.IsScheduled(pdr.CleanupTrigger) {
			t.Error("cleanup not scheduled")
		}
	})

	t.Run("is idempotent and keeps phase", func(t *testing.T) {
		h := newHarness(t, pdr.ScheduleConfig{AutoExportEnabled: true, NotifyEmail: "ops@example.com"}, pdr.Hooks{})

		for i := 0; i < 3; i++ {
			if err := h.rec.Reconcile(context.Background()); err != nil {
				t.Fatalf("Reconcile() #%d error = %v", i, err)
			}
			h.clock.Advance(10 * time.Minute)
		}

		if n := h.scheduler.Scheduled[pdr.AutoExportTrigger]; n != 1 {
			t.Errorf("auto-export scheduled %d times, want 1", n)
		}
		if n := h.scheduler.Scheduled[pdr.CleanupTrigger]; n != 1 {
			t.Errorf("cleanup scheduled %d times, want 1", n)
		}
		next, _ := h.scheduler.Next(pdr.AutoExportTrigger)
		if !next.Equal(testutil.FixedClock().Now()) {
			t.Errorf("auto-export start moved to %v", next)
		}
	})

	t.Run("settings failure schedules nothing", func(t *testing.T) {
		h := newHarness(t, pdr.ScheduleConfig{}, pdr.Hooks{})
		h.settings.LoadErr = errors.New("db gone")

		if err := h.rec.Reconcile(context.Background()); err == nil {
			t.Fatal("Reconcile() succeeded")
		}
		if h.scheduler.IsScheduled(pdr.CleanupTrigger) {
			t.Error("cleanup scheduled despite load failure")
		}
	})
}

func TestService_UpdateConfig(t *testing.T) {
	t.Run("toggling auto-export schedules and cancels", func(t *testing.T) {
		h := newHarness(t, pdr.ScheduleConfig{}, pdr.Hooks{})
		ctx := context.Background()

		if err := h.svc.UpdateConfig(ctx, pdr.ScheduleConfig{AutoExportEnabled: true, NotifyEmail: " ops@example.com "}); err != nil {
			t.Fatalf("UpdateConfig(on) error = %v", err)
		}
		if !h.scheduler.IsScheduled(pdr.AutoExportTrigger) {
			t.Fatal("auto-export not scheduled after enabling")
		}
		saved, _ := h.settings.Load(ctx)
		if saved.NotifyEmail != "ops@example.com" {
			t.Errorf("saved email = %q, want trimmed", saved.NotifyEmail)
		}

		if err := h.svc.UpdateConfig(ctx, pdr.ScheduleConfig{NotifyEmail: "ops@example.com"}); err != nil {
			t.Fatalf("UpdateConfig(off) error = %v", err)
		}
		if h.scheduler.IsScheduled(pdr.AutoExportTrigger) {
			t.Error("auto-export still scheduled after disabling")
		}
		if h.scheduler.Cancelled[pdr.AutoExportTrigger] != 1 {
			t.Errorf("cancelled %d times, want 1", h.scheduler.Cancelled[pdr.AutoExportTrigger])
		}
		if !h.scheduler.IsScheduled(pdr.CleanupTrigger) {
			t.Error("cleanup not scheduled")
		}
	})

	t.Run("invalid config is not saved", func(t *testing.T) {
		tests := []struct {
			name string
			cfg  pdr.ScheduleConfig
		}{
			{"enabled without email", pdr.ScheduleConfig{AutoExportEnabled: true}},
			{"malformed email", pdr.ScheduleConfig{NotifyEmail: "not-an-address"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness(t, pdr.ScheduleConfig{}, pdr.Hooks{})

				err := h.svc.UpdateConfig(context.Background(), tt.cfg)
				var valErr *pdr.ValidationError
				if !errors.As(err, &valErr) {
					t.Fatalf("UpdateConfig() error = %v, want ValidationError", err)
				}
				if h.settings.Saves != 0 {
					t.Error("invalid config was saved")
				}
				if h.scheduler.IsScheduled(pdr.CleanupTrigger) {
					t.Error("reconciled after a rejected update")
				}
			})
		}
	})
}

func TestService_Permissions(t *testing.T) {
	h := newHarness(t, pdr.ScheduleConfig{}, pdr.Hooks{})
	h.allowed = false
	ctx := context.Background()

	checks := map[string]func() error{
		"TriggerExport": func() error { _, err := h.svc.TriggerExport(ctx); return err },
		"TriggerImport": func() error {
			_, err := h.svc.TriggerImport(ctx, archiveOf(t, nil, nil))
			return err
		},
		"UpdateConfig": func() error { return h.svc.UpdateConfig(ctx, pdr.ScheduleConfig{}) },
		"GetConfig":    func() error { _, err := h.svc.GetConfig(ctx); return err },
		"Uninstall":    func() error { _, err := h.svc.Uninstall(ctx); return err },
	}

	for name, call := range checks {
		t.Run(name, func(t *testing.T) {
			if err := call(); !errors.Is(err, pdr.ErrNotPermitted) {
				t.Errorf("%s() error = %v, want ErrNotPermitted", name, err)
			}
		})
	}

	if len(h.store.All()) != 2 {
		t.Error("store was modified by a denied call")
	}

	t.Run("nil predicate denies", func(t *testing.T) {
		svc := pdr.NewService(nil, h.settings, h.rec, h.scheduler, h.dir, nil, nil)
		if _, err := svc.GetConfig(ctx); !errors.Is(err, pdr.ErrNotPermitted) {
			t.Errorf("GetConfig() error = %v, want ErrNotPermitted", err)
		}
	})
}

func TestService_Uninstall(t *testing.T) {
	tests := []struct {
		name        string
		retain      bool
		wantRemoved int
		wantFiles   bool
	}{
		{"retains files when configured", true, 0, true},
		{"purges files otherwise", false, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, pdr.ScheduleConfig{
				AutoExportEnabled:         true,
				NotifyEmail:               "ops@example.com",
				RetainFilesAfterUninstall: tt.retain,
			}, pdr.Hooks{})
			ctx := context.Background()

			if err := h.rec.Reconcile(ctx); err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			res, err := h.svc.TriggerExport(ctx)
			if err != nil {
				t.Fatalf("TriggerExport() error = %v", err)
			}

			removed, err := h.svc.Uninstall(ctx)
			if err != nil {
				t.Fatalf("Uninstall() error = %v", err)
			}
			if removed != tt.wantRemoved {
				t.Errorf("removed = %d, want %d", removed, tt.wantRemoved)
			}
			if h.dir.Exists(res.FileName) != tt.wantFiles {
				t.Errorf("archive exists = %v, want %v", !tt.wantFiles, tt.wantFiles)
			}
			if !h.dir.Exists(pdr.PlaceholderName) {
				t.Error("placeholder removed")
			}
			if h.scheduler.IsScheduled(pdr.AutoExportTrigger) || h.scheduler.IsScheduled(pdr.CleanupTrigger) {
				t.Error("triggers still scheduled after uninstall")
			}
			if !h.settings.Cleared {
				t.Error("settings not cleared")
			}

			// A later reconcile sees the defaults and leaves auto-export off.
			if err := h.rec.Reconcile(ctx); err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if h.scheduler.IsScheduled(pdr.AutoExportTrigger) {
				t.Error("auto-export rescheduled from stale settings")
			}
		})
	}

	t.Run("clear failure is returned", func(t *testing.T) {
		h := newHarness(t, pdr.ScheduleConfig{RetainFilesAfterUninstall: true}, pdr.Hooks{})
		h.settings.ClearErr = errors.New("db gone")

		if _, err := h.svc.Uninstall(context.Background()); err == nil {
			t.Error("Uninstall() succeeded, want error")
		}
	})
}

func TestJobs_AutoExport(t *testing.T) {
	t.Run("mails the archive with filtered subject and body", func(t *testing.T) {
		hooks := pdr.Hooks{
			Subject: []pdr.MessageFilter{func(s string) string { return "[backup] " + s }},
			Body:    []pdr.MessageFilter{strings.ToUpper, func(s string) string { return s + "\n-- ops" }},
		}
		h := newHarness(t, pdr.ScheduleConfig{AutoExportEnabled: true, NotifyEmail: "ops@example.com"}, hooks)
		ctx := context.Background()
		if err := h.rec.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}

		if !h.scheduler.Fire(ctx, pdr.AutoExportTrigger) {
			t.Fatal("auto-export not scheduled")
		}

		sent := h.mailer.Sent()
		if len(sent) != 1 {
			t.Fatalf("sent %d messages, want 1", len(sent))
		}
		msg := sent[0]
		if msg.To != "ops@example.com" {
			t.Errorf("To = %q", msg.To)
		}
		if msg.Subject != "[backup] Personal Data Request Backups - https://example.com" {
			t.Errorf("Subject = %q", msg.Subject)
		}
		if msg.Body != "PERSONAL DATA REQUEST BACKUPS - HTTPS://EXAMPLE.COM\n-- ops" {
			t.Errorf("Body = %q", msg.Body)
		}

		want := h.dir.Path("personal-data-request-backups-15012024-103000.json")
		if len(msg.Attachments) != 1 || msg.Attachments[0] != want {
			t.Fatalf("Attachments = %v, want [%s]", msg.Attachments, want)
		}
		onDisk, err := os.ReadFile(want)
		if err != nil {
			t.Fatalf("reading archive: %v", err)
		}
		if string(h.mailer.Attached[want]) != string(onDisk) {
			t.Error("attachment differs from archive on disk")
		}
		if string(h.mirror.Objects["personal-data-request-backups-15012024-103000.json"]) != string(onDisk) {
			t.Error("mirror copy differs from archive on disk")
		}
	})

	t.Run("empty address skips the mail", func(t *testing.T) {
		h := newHarness(t, pdr.ScheduleConfig{AutoExportEnabled: true, NotifyEmail: "ops@example.com"}, pdr.Hooks{})
		ctx := context.Background()
		if err := h.rec.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		h.settings.Set(pdr.ScheduleConfig{AutoExportEnabled: true})

		h.scheduler.Fire(ctx, pdr.AutoExportTrigger)

		if len(h.mailer.Sent()) != 0 {
			t.Error("mail sent without an address")
		}
		if !h.logger.Has("WARN", "no notification address") {
			t.Error("missing warning for empty address")
		}
		entries, _ := h.dir.List()
		if len(entries) != 1 {
			t.Errorf("archives on disk = %d, want 1", len(entries))
		}
	})

	t.Run("mail failure is returned", func(t *testing.T) {
		h := newHarness(t, pdr.ScheduleConfig{NotifyEmail: "ops@example.com"}, pdr.Hooks{})
		h.mailer.Err = errors.New("relay refused")

		if err := h.jobs.RunAutoExport(context.Background()); err == nil {
			t.Fatal("RunAutoExport() succeeded")
		}
		if !h.logger.Has("ERROR", "mailing archive failed") {
			t.Error("mail failure not logged")
		}
	})

	t.Run("mirror failure is not fatal", func(t *testing.T) {
		h := newHarness(t, pdr.ScheduleConfig{NotifyEmail: "ops@example.com"}, pdr.Hooks{})
		h.mirror.Err = errors.New("bucket missing")

		if err := h.jobs.RunAutoExport(context.Background()); err != nil {
			t.Fatalf("RunAutoExport() error = %v", err)
		}
		if len(h.mailer.Sent()) != 1 {
			t.Error("archive not mailed")
		}
		if !h.logger.Has("WARN", "mirroring archive failed") {
			t.Error("mirror failure not logged")
		}
	})

	t.Run("export failure sends nothing", func(t *testing.T) {
		h := newHarness(t, pdr.ScheduleConfig{NotifyEmail: "ops@example.com"}, pdr.Hooks{})
		h.store.FindErr[pdr.ExportRequest] = errors.New("db gone")

		if err := h.jobs.RunAutoExport(context.Background()); err == nil {
			t.Fatal("RunAutoExport() succeeded")
		}
		if len(h.mailer.Sent()) != 0 {
			t.Error("mail sent after failed export")
		}
	})
}

func TestJobs_Cleanup(t *testing.T) {
	h := newHarness(t, pdr.ScheduleConfig{}, pdr.Hooks{})
	ctx := context.Background()
	if err := h.rec.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if _, err := h.svc.TriggerExport(ctx); err != nil {
		t.Fatalf("TriggerExport() error = %v", err)
	}
	h.clock.Advance(time.Second)
	if _, err := h.svc.TriggerExport(ctx); err != nil {
		t.Fatalf("TriggerExport() error = %v", err)
	}

	h.scheduler.Fire(ctx, pdr.CleanupTrigger)

	entries, err := h.dir.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("archives left = %d, want 0", len(entries))
	}
	if !h.dir.Exists(pdr.PlaceholderName) {
		t.Error("placeholder removed")
	}
	if !h.scheduler.IsScheduled(pdr.CleanupTrigger) {
		t.Error("cleanup unscheduled by firing")
	}
}

// gatedMailer holds Send open until release is closed.
type gatedMailer struct {
	*testutil.RecordingMailer
	entered chan struct{}
	release chan struct{}
}

func (m *gatedMailer) Send(ctx context.Context, msg pdr.Message) error {
	close(m.entered)
	<-m.release
	return m.RecordingMailer.Send(ctx, msg)
}

func TestJobs_CleanupWaitsForAutoExport(t *testing.T) {
	h := newHarness(t, pdr.ScheduleConfig{AutoExportEnabled: true, NotifyEmail: "ops@example.com"}, pdr.Hooks{})
	mailer := &gatedMailer{
		RecordingMailer: testutil.NewRecordingMailer(),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	jobs := pdr.NewJobs(h.engine, h.dir, h.settings, mailer, h.logger, pdr.JobsOptions{
		SiteURL: "https://example.com",
		IDGen:   testutil.NewStubIDGenerator(),
	})
	ctx := context.Background()

	exported := make(chan struct{})
	go func() {
		defer close(exported)
		jobs.AutoExport(ctx)
	}()
	<-mailer.entered

	cleaned := make(chan struct{})
	go func() {
		defer close(cleaned)
		jobs.Cleanup(ctx)
	}()

	select {
	case <-cleaned:
		t.Fatal("cleanup ran while auto-export was mailing")
	case <-time.After(50 * time.Millisecond):
	}

	close(mailer.release)
	<-exported
	<-cleaned

	sent := mailer.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if len(mailer.Attached[sent[0].Attachments[0]]) == 0 {
		t.Error("attachment not read before cleanup")
	}
	entries, err := h.dir.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("archives left = %d, want 0 after cleanup", len(entries))
	}
}
