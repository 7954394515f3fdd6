package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/model"
	"github.com/kkkkikiki/topup/internal/repository"
	"github.com/kkkkikiki/topup/internal/validation"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newServiceForTest(t *testing.T, store Store) *Service {
	t.Helper()
	rules := validation.NewRules("AMZN-", 16, 1000000, []string{"amazon.com"}, 4096)
	return NewService(store, rules, WithClock(func() time.Time { return testNow }))
}

func testCode(i int) string {
	return fmt.Sprintf("AMZN-%016d", i)
}

// seed inserts codes with the given denominations directly into the store
func seed(t *testing.T, store Store, status model.CodeStatus, denominations ...int64) {
	t.Helper()
	for _, d := range denominations {
		seedCounter++
		code := &model.GiftCode{
			Code:         testCode(seedCounter),
			Denomination: d,
			Status:       status,
			CreatedAt:    testNow,
			ExpiresAt:    testNow.Add(365 * 24 * time.Hour),
		}
		if err := store.Insert(context.Background(), code); err != nil {
			t.Fatalf("seed code: %v", err)
		}
	}
}

var seedCounter = 100000

func TestAllocateCoversTarget(t *testing.T) {
	store := repository.NewMemoryGiftCodeStore()
	svc := newServiceForTest(t, store)
	seed(t, store, model.CodeAvailable, 500, 500, 500, 1000)

	res, err := svc.Allocate(context.Background(), 1500)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if !res.Success || res.TotalAllocated != 1500 || res.RemainingAmount != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.SelectedCodes) != 2 {
		t.Fatalf("expected 500+1000 to win the tie-break, got %d codes", len(res.SelectedCodes))
	}

	for _, c := range res.SelectedCodes {
		stored, err := store.GetByID(context.Background(), c.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Status != model.CodeAllocated {
			t.Fatalf("code %d should be ALLOCATED, got %s", c.ID, stored.Status)
		}
	}
}

func TestAllocateZeroTarget(t *testing.T) {
	store := repository.NewMemoryGiftCodeStore()
	svc := newServiceForTest(t, store)

	res, err := svc.Allocate(context.Background(), 0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if !res.Success || len(res.SelectedCodes) != 0 || res.TotalAllocated != 0 {
		t.Fatalf("expected empty success, got %+v", res)
	}
}

func TestAllocateRejectsNegativeTarget(t *testing.T) {
	svc := newServiceForTest(t, repository.NewMemoryGiftCodeStore())

	_, err := svc.Allocate(context.Background(), -5)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAllocateFailures(t *testing.T) {
	t.Run("no inventory", func(t *testing.T) {
		store := repository.NewMemoryGiftCodeStore()
		seed(t, store, model.CodeAllocated, 5000)
		svc := newServiceForTest(t, store)

		res, err := svc.Allocate(context.Background(), 1000)
		if !errors.Is(err, ErrNoInventory) || apperr.KindOf(err) != apperr.KindConflict {
			t.Fatalf("expected ErrNoInventory conflict, got %v", err)
		}
		if res.Success || res.RemainingAmount != 1000 {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	t.Run("insufficient value makes no claims", func(t *testing.T) {
		store := repository.NewMemoryGiftCodeStore()
		seed(t, store, model.CodeAvailable, 500, 500)
		svc := newServiceForTest(t, store)

		_, err := svc.Allocate(context.Background(), 1001)
		if !errors.Is(err, ErrInsufficientValue) {
			t.Fatalf("expected ErrInsufficientValue, got %v", err)
		}
		available, _ := store.ListByStatus(context.Background(), model.CodeAvailable)
		if len(available) != 2 {
			t.Fatalf("no code should have been claimed, %d available", len(available))
		}
	})

	t.Run("expired codes are not candidates", func(t *testing.T) {
		store := repository.NewMemoryGiftCodeStore()
		expired := &model.GiftCode{
			Code:         testCode(900001),
			Denomination: 5000,
			Status:       model.CodeAvailable,
			ExpiresAt:    testNow.Add(-time.Second),
		}
		if err := store.Insert(context.Background(), expired); err != nil {
			t.Fatalf("insert: %v", err)
		}
		svc := newServiceForTest(t, store)

		_, err := svc.Allocate(context.Background(), 1000)
		if !errors.Is(err, ErrNoInventory) {
			t.Fatalf("expected ErrNoInventory, got %v", err)
		}
	})
}

// racingStore lets another actor win the claim on the listed ids first
type racingStore struct {
	*repository.MemoryGiftCodeStore
	stolen  map[int64]bool
	failIDs map[int64]bool
}

func (s *racingStore) CompareAndSetStatus(ctx context.Context, id int64, from, to model.CodeStatus, metadata model.Metadata) (bool, error) {
	if s.failIDs[id] {
		return false, errors.New("connection reset")
	}
	if s.stolen[id] {
		if _, err := s.MemoryGiftCodeStore.CompareAndSetStatus(ctx, id, from, to, metadata); err != nil {
			return false, err
		}
	}
	return s.MemoryGiftCodeStore.CompareAndSetStatus(ctx, id, from, to, metadata)
}

func TestAllocateLostRaceDegradesToPartial(t *testing.T) {
	mem := repository.NewMemoryGiftCodeStore()
	seed(t, mem, model.CodeAvailable, 500, 1000)
	all, _ := mem.ListAll(context.Background())

	store := &racingStore{MemoryGiftCodeStore: mem, stolen: map[int64]bool{all[1].ID: true}}
	svc := newServiceForTest(t, store)

	res, err := svc.Allocate(context.Background(), 1500)
	if err != nil {
		t.Fatalf("a lost race is not an error when something was claimed: %v", err)
	}
	if !res.Success || res.TotalAllocated != 500 || res.RemainingAmount != 1000 {
		t.Fatalf("expected partial allocation, got %+v", res)
	}
}

func TestAllocateAllClaimsLost(t *testing.T) {
	mem := repository.NewMemoryGiftCodeStore()
	seed(t, mem, model.CodeAvailable, 2000)
	all, _ := mem.ListAll(context.Background())

	store := &racingStore{MemoryGiftCodeStore: mem, stolen: map[int64]bool{all[0].ID: true}}
	svc := newServiceForTest(t, store)

	res, err := svc.Allocate(context.Background(), 1500)
	if !errors.Is(err, ErrClaimsLost) {
		t.Fatalf("expected ErrClaimsLost, got %v", err)
	}
	if res == nil || res.Success || res.RemainingAmount != 1500 || len(res.SelectedCodes) != 0 {
		t.Fatalf("expected empty failed result, got %+v", res)
	}
}

func TestAllocateClaimErrorKeepsClaimedCodes(t *testing.T) {
	mem := repository.NewMemoryGiftCodeStore()
	seed(t, mem, model.CodeAvailable, 500, 1000)
	all, _ := mem.ListAll(context.Background())

	store := &racingStore{MemoryGiftCodeStore: mem, failIDs: map[int64]bool{all[0].ID: true}}
	svc := newServiceForTest(t, store)

	res, err := svc.Allocate(context.Background(), 1500)
	if apperr.KindOf(err) != apperr.KindPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if res == nil || !res.Success || res.TotalAllocated != 1000 {
		t.Fatalf("claimed code must still be reported, got %+v", res)
	}
}

func TestConcurrentAllocationsNeverDoubleClaim(t *testing.T) {
	store := repository.NewMemoryGiftCodeStore()
	denoms := make([]int64, 0, 40)
	for i := 0; i < 20; i++ {
		denoms = append(denoms, 500, 1000)
	}
	seed(t, store, model.CodeAvailable, denoms...)
	svc := newServiceForTest(t, store)

	const requests = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[int64]int)
	)
	wg.Add(requests)
	for i := 0; i < requests; i++ {
		go func() {
			defer wg.Done()
			res, err := svc.Allocate(context.Background(), 1500)
			if err != nil && res == nil {
				t.Errorf("allocate returned no result: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, c := range res.SelectedCodes {
				claimed[c.ID]++
			}
		}()
	}
	wg.Wait()

	var allocatedValue int64
	for id, n := range claimed {
		if n != 1 {
			t.Fatalf("code %d claimed %d times", id, n)
		}
	}
	allocated, _ := store.ListByStatus(context.Background(), model.CodeAllocated)
	for _, c := range allocated {
		allocatedValue += c.Denomination
	}
	if len(allocated) != len(claimed) {
		t.Fatalf("store has %d allocated codes, requests saw %d", len(allocated), len(claimed))
	}
	if allocatedValue > 30000 {
		t.Fatalf("allocated more than the inventory holds: %d", allocatedValue)
	}
}

func TestAddCodeValidation(t *testing.T) {
	svc := newServiceForTest(t, repository.NewMemoryGiftCodeStore())

	_, err := svc.AddCode(context.Background(), model.NewCode{
		Code:         "bad",
		Denomination: 0,
		ExpiresAt:    testNow,
	})
	fields := apperr.FieldsOf(err)
	if len(fields) != 3 {
		t.Fatalf("expected code, denomination and expiry to be reported, got %v", fields)
	}

	code, err := svc.AddCode(context.Background(), model.NewCode{
		Code:         testCode(1),
		Denomination: 2500,
		ExpiresAt:    testNow.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("add code: %v", err)
	}
	if code.ID == 0 || code.Status != model.CodeAvailable {
		t.Fatalf("unexpected stored code %+v", code)
	}

	_, err = svc.AddCode(context.Background(), model.NewCode{
		Code:         testCode(1),
		Denomination: 500,
		ExpiresAt:    testNow.Add(time.Hour),
	})
	if !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode, got %v", err)
	}
}

func TestImportCodesIsAllOrNothing(t *testing.T) {
	store := repository.NewMemoryGiftCodeStore()
	svc := newServiceForTest(t, store)
	exp := testNow.Add(time.Hour)

	_, err := svc.ImportCodes(context.Background(), []model.NewCode{
		{Code: testCode(10), Denomination: 500, ExpiresAt: exp},
		{Code: testCode(10), Denomination: 500, ExpiresAt: exp},
		{Code: testCode(11), Denomination: -1, ExpiresAt: exp},
	})
	if len(apperr.FieldsOf(err)) != 2 {
		t.Fatalf("expected duplicate and denomination violations, got %v", err)
	}
	all, _ := store.ListAll(context.Background())
	if len(all) != 0 {
		t.Fatalf("invalid import must not write, got %d rows", len(all))
	}

	imported, err := svc.ImportCodes(context.Background(), []model.NewCode{
		{Code: testCode(10), Denomination: 500, ExpiresAt: exp},
		{Code: testCode(11), Denomination: 1000, ExpiresAt: exp},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(imported) != 2 || imported[0].ID == 0 {
		t.Fatalf("unexpected imported codes %+v", imported)
	}
}

func TestStatsFixture(t *testing.T) {
	store := repository.NewMemoryGiftCodeStore()
	seed(t, store, model.CodeAvailable, 500, 500, 500)
	seed(t, store, model.CodeAllocated, 1000, 1000)
	seed(t, store, model.CodeRedeemed, 2500)
	svc := newServiceForTest(t, store)

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalCodes != 6 || stats.AvailableValue != 1500 || stats.TotalValue != 6500 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.ByStatus[model.CodeAllocated].Count != 2 || stats.ByStatus[model.CodeAllocated].Value != 2000 {
		t.Fatalf("unexpected ALLOCATED bucket %+v", stats.ByStatus[model.CodeAllocated])
	}
	if stats.Denominations[500] != 3 || len(stats.Denominations) != 1 {
		t.Fatalf("unexpected histogram %v", stats.Denominations)
	}
}

func TestUpdateStatusAndRedeem(t *testing.T) {
	store := repository.NewMemoryGiftCodeStore()
	seed(t, store, model.CodeAvailable, 500)
	all, _ := store.ListAll(context.Background())
	id := all[0].ID
	svc := newServiceForTest(t, store)

	if _, err := svc.Redeem(context.Background(), id, "session-ab"); !errors.Is(err, ErrInvalidStatusChange) {
		t.Fatalf("AVAILABLE code must not be redeemable, got %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), id, model.CodeAllocated); err != nil {
		t.Fatalf("update status: %v", err)
	}
	code, err := svc.Redeem(context.Background(), id, "session-ab")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if code.Status != model.CodeRedeemed || code.Metadata["redeemed_order"] != "session-ab" {
		t.Fatalf("unexpected redeemed code %+v", code)
	}
	if _, err := svc.UpdateStatus(context.Background(), id, model.CodeAvailable); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("REDEEMED -> AVAILABLE must be a conflict, got %v", err)
	}
	if _, err := svc.GetByID(context.Background(), 9999); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSweepExpiredCodes(t *testing.T) {
	store := repository.NewMemoryGiftCodeStore()
	for i, st := range []model.CodeStatus{model.CodeAvailable, model.CodeAllocated, model.CodeRedeemed} {
		c := &model.GiftCode{
			Code:         testCode(500 + i),
			Denomination: 500,
			Status:       st,
			ExpiresAt:    testNow.Add(-time.Minute),
		}
		if err := store.Insert(context.Background(), c); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	seed(t, store, model.CodeAvailable, 500)
	svc := newServiceForTest(t, store)

	n, err := svc.SweepExpiredCodes(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 codes expired, got %d", n)
	}
	if n, _ := svc.SweepExpiredCodes(context.Background()); n != 0 {
		t.Fatalf("second sweep should be a no-op, got %d", n)
	}
}

func TestCodeGenerator(t *testing.T) {
	gen, err := NewCodeGenerator("AMZN-", 16, []byte("secret"), "batch-2026-03")
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	rules := validation.NewRules("AMZN-", 16, 1000000, []string{"amazon.com"}, 4096)

	seen := make(map[string]bool)
	for i := uint64(0); i < 1000; i++ {
		code := gen.Generate(i)
		var fields apperr.FieldList
		rules.CheckCode(&fields, "code", code)
		if len(fields) != 0 {
			t.Fatalf("generated code %q fails format check", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q at seq %d", code, i)
		}
		seen[code] = true
	}

	if _, err := NewCodeGenerator("AMZN-", 40, nil, "x"); err == nil {
		t.Fatalf("expected error for oversized length")
	}
}

func TestCodeGeneratorDependsOnSecret(t *testing.T) {
	a, _ := NewCodeGenerator("AMZN-", 16, []byte("secret-a"), "launch")
	b, _ := NewCodeGenerator("AMZN-", 16, []byte("secret-b"), "launch")
	again, _ := NewCodeGenerator("AMZN-", 16, []byte("secret-a"), "launch")

	for seq := uint64(0); seq < 20; seq++ {
		if a.Generate(seq) == b.Generate(seq) {
			t.Fatalf("seq %d: different secrets derived the same code %q", seq, a.Generate(seq))
		}
		if a.Generate(seq) != again.Generate(seq) {
			t.Fatalf("seq %d: same secret and batch must derive the same code", seq)
		}
	}
}

func TestGenerateBatch(t *testing.T) {
	store := repository.NewMemoryGiftCodeStore()
	svc := newServiceForTest(t, store)
	ctx := context.Background()

	req := GenerateRequest{
		Batch:        "launch",
		Count:        50,
		Denomination: 2500,
		ExpiresAt:    testNow.Add(90 * 24 * time.Hour),
	}
	codes, err := svc.GenerateBatch(ctx, req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(codes) != 50 {
		t.Fatalf("expected 50 codes, got %d", len(codes))
	}
	if codes[0].Status != model.CodeAvailable || codes[0].Metadata["batch"] != "launch" {
		t.Fatalf("unexpected generated code %+v", codes[0])
	}

	// the same sequence range derives the same codes
	_, err = svc.GenerateBatch(ctx, req)
	if !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("expected duplicate on regenerate, got %v", err)
	}

	req.StartSeq = 50
	if _, err := svc.GenerateBatch(ctx, req); err != nil {
		t.Fatalf("next range: %v", err)
	}

	_, err = svc.GenerateBatch(ctx, GenerateRequest{Count: 0, Denomination: 100, ExpiresAt: req.ExpiresAt})
	if len(apperr.FieldsOf(err)) != 2 {
		t.Fatalf("expected batch and count violations, got %v", err)
	}
}
