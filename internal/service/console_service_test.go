package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Leganyst/consultation-slots/internal/model"
)

var admin = Admin("admin-1")

// Диапазон пн 2025-06-02 — вт 2025-06-03, 09:00–11:00, каждый день.
func twoDayRequest() BlockRequest {
	return BlockRequest{
		StartDate: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		From:      "09:00",
		To:        "11:00",
		Pattern:   "daily",
	}
}

func TestCreateBlocks_TwoDayRange(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.console.CreateBlocks(ctx, admin, twoDayRequest())
	if err != nil {
		t.Fatalf("create blocks: %v", err)
	}
	if len(res.Created) != 4 || len(res.Failed) != 0 {
		t.Fatalf("created=%d failed=%d", len(res.Created), len(res.Failed))
	}

	page, err := env.console.ListActiveBlocks(ctx, admin, 1, 10)
	if err != nil {
		t.Fatalf("list blocks: %v", err)
	}
	want := []time.Time{slot(2, 9), slot(2, 10), slot(3, 9), slot(3, 10)}
	if len(page.Items) != len(want) {
		t.Fatalf("expected %d blocks, got %d", len(want), len(page.Items))
	}
	for i, b := range page.Items {
		if !b.SlotAt.Equal(want[i]) {
			t.Fatalf("block %d at %s, want %s", i, b.SlotAt, want[i])
		}
		if !b.IsAdminBlock || b.Status != model.StatusAdminCancelledSlot || !b.Contact.IsEmpty() {
			t.Fatalf("unexpected block: %+v", b)
		}
		if b.BlockBatchID == nil || *b.BlockBatchID != res.BatchID {
			t.Fatalf("block not linked to batch")
		}
	}

	batch, err := env.console.BlockBatch(ctx, admin, res.BatchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Requested != 4 || batch.Created != 4 || batch.Failed != 0 || batch.CreatedBy != "admin-1" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	var rules model.BlockRules
	if err := json.Unmarshal(batch.Rules, &rules); err != nil {
		t.Fatalf("decode rules: %v", err)
	}
	if rules.Pattern != "daily" || rules.From != "09:00" || rules.To != "11:00" {
		t.Fatalf("unexpected rules: %+v", rules)
	}

	if env.available(t, slot(2, 9)) {
		t.Fatalf("blocked slot must be occupied")
	}
}

func TestCreateBlocks_PartialFailureKeepsSuccesses(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.submit(t, slot(2, 10))

	res, err := env.console.CreateBlocks(ctx, admin, twoDayRequest())
	if err != nil {
		t.Fatalf("create blocks: %v", err)
	}
	if len(res.Created) != 3 || len(res.Failed) != 1 {
		t.Fatalf("created=%d failed=%d", len(res.Created), len(res.Failed))
	}
	if f := res.Failed[0]; !f.Slot.Equal(slot(2, 10)) || !errors.Is(f.Err, ErrSlotUnavailable) {
		t.Fatalf("unexpected failure: %+v", f)
	}

	batch, _ := env.console.BlockBatch(ctx, admin, res.BatchID)
	if batch.Created != 3 || batch.Failed != 1 {
		t.Fatalf("batch counts = %d/%d", batch.Created, batch.Failed)
	}
	if v := testutil.ToFloat64(env.metrics.BlocksFailed); v != 1 {
		t.Fatalf("failed counter = %v", v)
	}
}

func TestPlanBlocks_PruneAndExtend(t *testing.T) {
	env := newTestEnv(t, nil)

	req := twoDayRequest()
	req.Remove = []time.Time{slot(2, 9)}
	req.Add = []time.Time{slot(4, 15), slot(3, 9)}

	plan, err := env.console.PlanBlocks(req)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := []time.Time{slot(2, 10), slot(3, 9), slot(3, 10), slot(4, 15)}
	if len(plan) != len(want) {
		t.Fatalf("plan = %v", plan)
	}
	for i := range want {
		if !plan[i].Start.Equal(want[i]) {
			t.Fatalf("plan[%d] = %s, want %s", i, plan[i].Start, want[i])
		}
	}

	req.Add = []time.Time{slot(4, 15).Add(30 * time.Minute)}
	var ve *ValidationError
	if _, err := env.console.PlanBlocks(req); !errors.As(err, &ve) || ve.Field != "add" {
		t.Fatalf("off-grid addition must be rejected, got %v", err)
	}

	bad := twoDayRequest()
	bad.Pattern = "fortnightly"
	if _, err := env.console.PlanBlocks(bad); !errors.As(err, &ve) || ve.Field != "pattern" {
		t.Fatalf("unknown pattern must be rejected, got %v", err)
	}

	bad = twoDayRequest()
	bad.From, bad.To = "11:00", "09:00"
	if _, err := env.console.PlanBlocks(bad); !errors.As(err, &ve) {
		t.Fatalf("reversed time range must be rejected, got %v", err)
	}
}

func TestCreateBlocks_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t, nil)

	if _, err := env.console.CreateBlocks(context.Background(), Client("anna"), twoDayRequest()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestRestoreBlock_FreesSlot(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.console.CreateBlocks(ctx, admin, twoDayRequest())
	if err != nil {
		t.Fatalf("create blocks: %v", err)
	}
	block := res.Created[0]

	restored, err := env.console.RestoreBlock(ctx, admin, block.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Status != model.StatusRestored || restored.IsAdminBlock {
		t.Fatalf("unexpected restored record: %+v", restored)
	}
	if !env.available(t, block.SlotAt) {
		t.Fatalf("restored slot must be available")
	}
	env.submit(t, block.SlotAt)

	if _, err := env.console.RestoreBlock(ctx, admin, block.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("restoring twice must fail, got %v", err)
	}
}

// Удаление без снятия IsAdminBlock: из списка пропадает, слот остаётся занятым.
func TestDeleteBlock_KeepOccupied(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.console.CreateBlocks(ctx, admin, twoDayRequest())
	if err != nil {
		t.Fatalf("create blocks: %v", err)
	}
	block := res.Created[0]

	deleted, err := env.console.DeleteBlock(ctx, admin, block.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.Deleted || !deleted.IsAdminBlock {
		t.Fatalf("delete must keep the block flag: %+v", deleted)
	}

	page, _ := env.console.ListActiveBlocks(ctx, admin, 1, 10)
	if page.Total != 3 {
		t.Fatalf("deleted block must leave the listing, total=%d", page.Total)
	}
	for _, b := range page.Items {
		if b.ID == block.ID {
			t.Fatalf("deleted block still listed")
		}
	}

	if env.available(t, block.SlotAt) {
		t.Fatalf("slot of a deleted block stays occupied under keep_occupied")
	}
	if _, err := env.booking.Submit(ctx, submitRequest(block.SlotAt)); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	if _, err := env.console.RestoreBlock(ctx, admin, block.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("deleted block cannot be restored, got %v", err)
	}
}

func TestDeleteBlock_ReleaseSlot(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Policy = model.DeletePolicyReleaseSlot })
	ctx := context.Background()

	res, err := env.console.CreateBlocks(ctx, admin, twoDayRequest())
	if err != nil {
		t.Fatalf("create blocks: %v", err)
	}
	block := res.Created[0]

	if _, err := env.console.DeleteBlock(ctx, admin, block.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !env.available(t, block.SlotAt) {
		t.Fatalf("release_slot must free the slot")
	}
	env.submit(t, block.SlotAt)
}

func TestReconcileClaims_AfterPolicySwitch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.console.CreateBlocks(ctx, admin, twoDayRequest())
	if err != nil {
		t.Fatalf("create blocks: %v", err)
	}
	block := res.Created[0]
	if _, err := env.console.DeleteBlock(ctx, admin, block.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if n, err := env.console.ReconcileClaims(ctx); err != nil || n != 0 {
		t.Fatalf("keep_occupied must not release claims: %d, %v", n, err)
	}

	deps := Deps{
		Bookings: env.bookings,
		Policy:   model.DeletePolicyReleaseSlot,
		Now:      env.clock.Now,
	}
	console := NewConsoleService(deps)
	booking := NewBookingService(deps)

	n, err := console.ReconcileClaims(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 released claim, got %d", n)
	}
	if _, err := booking.Submit(ctx, submitRequest(block.SlotAt)); err != nil {
		t.Fatalf("slot must be free after reconcile: %v", err)
	}
}
