package main

import (
	"testing"

	json "github.com/goccy/go-json"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

func parse(t *testing.T, raw string) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("Invalid envelope %q: %v", raw, err)
	}
	return env
}

func setupBridge(t *testing.T) *bridge {
	t.Helper()
	b := &bridge{}
	arg, _ := json.Marshal(initOptions{DataDir: t.TempDir(), Timezone: "UTC"})
	if env := parse(t, b.Init(string(arg))); !env.OK {
		t.Fatalf("Init failed: %+v", env.Error)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBridge_NotInitialized(t *testing.T) {
	b := &bridge{}

	env := parse(t, b.Status())
	if env.OK || env.Error.Code != apperrors.ErrInvalid {
		t.Errorf("Expected INVALID_INPUT before Init, got %+v", env)
	}
	if b.LastError() == "" {
		t.Error("Expected the last error to be recorded")
	}
	if env := parse(t, b.Init("not json")); env.OK {
		t.Error("Expected Init to reject malformed options")
	}
}

func TestBridge_FoodFlow(t *testing.T) {
	b := setupBridge(t)

	if env := parse(t, b.FoodAdd(`{"name":"Toast","calories":150}`)); env.OK {
		t.Error("Expected FoodAdd to require a signed-in user")
	}
	if env := parse(t, b.SignIn("u1")); !env.OK {
		t.Fatalf("SignIn failed: %+v", env.Error)
	}

	env := parse(t, b.FoodAdd(`{"name":"Toast","calories":150,"mealType":"breakfast"}`))
	if !env.OK {
		t.Fatalf("FoodAdd failed: %+v", env.Error)
	}
	var rec models.Record
	json.Unmarshal(env.Data, &rec)

	env = parse(t, b.FoodAdd(`{"name":"Nothing"}`))
	if env.OK || env.Error.Code != apperrors.ErrValidation {
		t.Errorf("Expected VALIDATION_ERROR, got %+v", env)
	}

	env = parse(t, b.FoodList(1, 10))
	var page models.Page
	json.Unmarshal(env.Data, &page)
	if page.Total != 1 {
		t.Errorf("Expected 1 item, got %d", page.Total)
	}

	env = parse(t, b.FoodRemove(rec.ID))
	if !env.OK {
		t.Fatalf("FoodRemove failed: %+v", env.Error)
	}
	env = parse(t, b.FoodUndo(string(env.Data)))
	if !env.OK {
		t.Fatalf("FoodUndo failed: %+v", env.Error)
	}

	env = parse(t, b.FoodDailySummary(""))
	var daily models.DailySummary
	json.Unmarshal(env.Data, &daily)
	if daily.Calories != 150 {
		t.Errorf("Expected 150 kcal today, got %v", daily.Calories)
	}
	if env := parse(t, b.FoodDailySummary("03/04/2024")); env.OK {
		t.Error("Expected a malformed date to be rejected")
	}

	env = parse(t, b.PollEvents())
	var events []map[string]interface{}
	json.Unmarshal(env.Data, &events)
	if len(events) == 0 {
		t.Error("Expected buffered sync events from sign-in")
	}
	env = parse(t, b.PollEvents())
	if string(env.Data) != "[]" {
		t.Errorf("Expected the buffer to be cleared, got %s", env.Data)
	}
}

func TestBridge_WeightAndStatus(t *testing.T) {
	b := setupBridge(t)
	parse(t, b.SignIn("u1"))

	if env := parse(t, b.SetOnline(false)); !env.OK {
		t.Fatalf("SetOnline failed: %+v", env.Error)
	}
	if env := parse(t, b.WeightAdd(`{"weight":70.2}`)); !env.OK {
		t.Fatalf("WeightAdd failed: %+v", env.Error)
	}
	if env := parse(t, b.WeightSetGoal(`{"targetWeight":68}`)); !env.OK {
		t.Fatalf("WeightSetGoal failed: %+v", env.Error)
	}

	env := parse(t, b.WeightStats())
	var stats models.WeightStats
	json.Unmarshal(env.Data, &stats)
	if stats.Current != 70.2 || stats.ToGoal != 2.2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	env = parse(t, b.Status())
	var status struct {
		Connectivity string `json:"connectivity"`
		Queue        struct {
			Total int `json:"total"`
		} `json:"queue"`
	}
	json.Unmarshal(env.Data, &status)
	if status.Connectivity != "offline" || status.Queue.Total != 1 {
		t.Errorf("Unexpected status: %+v", status)
	}

	parse(t, b.SignOut())
	if env := parse(t, b.SyncNow()); env.OK {
		t.Error("Expected SyncNow to fail without a user")
	}
}

func TestBridge_InitTwice(t *testing.T) {
	b := setupBridge(t)

	if env := parse(t, b.Init(`{"dataDir":"/nonexistent"}`)); !env.OK {
		t.Error("Expected a second Init to be a no-op")
	}
	if env := parse(t, b.Close()); !env.OK {
		t.Errorf("Close failed: %+v", env.Error)
	}
	if env := parse(t, b.Close()); !env.OK {
		t.Error("Expected a second Close to succeed")
	}
}

func TestBridge_ExportImport(t *testing.T) {
	b := setupBridge(t)

	if env := parse(t, b.ExportData("")); env.OK {
		t.Error("Expected ExportData to require a signed-in user")
	}
	parse(t, b.SignIn("u1"))
	parse(t, b.WeightAdd(`{"weight":70}`))

	env := parse(t, b.ExportData(`{"password":"pw"}`))
	if !env.OK {
		t.Fatalf("ExportData failed: %+v", env.Error)
	}
	var result struct {
		FilePath  string `json:"filePath"`
		Encrypted bool   `json:"encrypted"`
	}
	json.Unmarshal(env.Data, &result)
	if !result.Encrypted {
		t.Errorf("Expected an encrypted archive, got %+v", result)
	}

	arg, _ := json.Marshal(map[string]string{"archivePath": result.FilePath})
	if env := parse(t, b.ImportData(string(arg))); env.OK {
		t.Error("Expected ImportData to require the password")
	}
	arg, _ = json.Marshal(map[string]string{"archivePath": result.FilePath, "password": "pw"})
	env = parse(t, b.ImportData(string(arg)))
	if !env.OK {
		t.Fatalf("ImportData failed: %+v", env.Error)
	}
	var imp struct {
		Skipped int `json:"skipped"`
	}
	json.Unmarshal(env.Data, &imp)
	if imp.Skipped != 1 {
		t.Errorf("Expected the existing entry skipped, got %+v", imp)
	}
	if env := parse(t, b.ImportData(`{}`)); env.OK || env.Error.Code != apperrors.ErrInvalid {
		t.Errorf("Expected INVALID_INPUT without a path, got %+v", env)
	}
}
