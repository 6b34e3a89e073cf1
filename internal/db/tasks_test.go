package db

import (
	"testing"

	"github.com/dataops-hub/flowbridge/internal/apperr"
	"github.com/dataops-hub/flowbridge/internal/models"
)

func TestAddTaskToJobAppendsOrder(t *testing.T) {
	gdb := openTestDB(t)
	job, err := CreateJobWithTasks(gdb, models.CreateJobRequest{
		Name:  "j",
		Tasks: []models.TaskSpec{{Name: "a"}, {Name: "b"}},
	}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	link, err := AddTaskToJob(gdb, job.ID, models.TaskSpec{Name: "c", ScriptType: "bash", ScriptContent: "x"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if link.ExecutionOrder != 2 {
		t.Errorf("order = %d, want 2", link.ExecutionOrder)
	}

	// Unlike job creation, an explicit add overwrites the stored script.
	link2, err := AddTaskToJob(gdb, job.ID, models.TaskSpec{Name: "a", ScriptType: "python", ScriptContent: "new"})
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if link2.ExecutionOrder != 3 {
		t.Errorf("re-add order = %d, want 3", link2.ExecutionOrder)
	}
	var task models.Task
	gdb.Where("name = ?", "a").First(&task)
	if task.ScriptContent != "new" {
		t.Errorf("script not overwritten: %q", task.ScriptContent)
	}

	if _, err := AddTaskToJob(gdb, 9999, models.TaskSpec{Name: "z"}); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("missing job: got %v", err)
	}
}

func TestUpdateAndRemoveJobTask(t *testing.T) {
	gdb := openTestDB(t)
	job, _ := CreateJobWithTasks(gdb, models.CreateJobRequest{
		Name:  "j",
		Tasks: []models.TaskSpec{{Name: "a", ScriptType: "bash"}},
	}, nil)
	details, _ := GetTasksByJobID(gdb, job.ID)
	linkID := details[0].JobTaskID

	task, err := UpdateJobTask(gdb, linkID, models.TaskSpec{Name: "a", ScriptType: "python", ScriptContent: "v2"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.ScriptType != "python" || task.ScriptContent != "v2" {
		t.Errorf("task = %+v", task)
	}

	if err := RemoveJobTask(gdb, linkID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := RemoveJobTask(gdb, linkID); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("double remove: got %v", err)
	}
	if _, err := UpdateJobTask(gdb, linkID, models.TaskSpec{Name: "a"}); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("update removed link: got %v", err)
	}
}

func TestReplaceJobTasks(t *testing.T) {
	gdb := openTestDB(t)
	job, err := CreateJobWithTasks(gdb, models.CreateJobRequest{
		Name:  "j",
		Tasks: []models.TaskSpec{{Name: "a"}, {Name: "b"}},
	}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var extra models.Task
	gdb.Create(&models.Task{Name: "c"})
	gdb.Where("name = ?", "c").First(&extra)
	var keep models.Task
	gdb.Where("name = ?", "b").First(&keep)

	res, err := ReplaceJobTasks(gdb, job.ID, []uint{keep.ID, extra.ID})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(res.Added) != 1 || res.Added[0] != extra.ID {
		t.Errorf("added = %v", res.Added)
	}
	if len(res.Removed) != 1 {
		t.Errorf("removed = %v", res.Removed)
	}

	details, _ := GetTasksByJobID(gdb, job.ID)
	if len(details) != 2 {
		t.Fatalf("got %d links", len(details))
	}
	// Kept link holds its order; the added one lands after the old maximum.
	if details[0].Name != "b" || details[1].Name != "c" {
		t.Errorf("membership: %s, %s", details[0].Name, details[1].Name)
	}
	if details[1].ExecutionOrder <= details[0].ExecutionOrder {
		t.Errorf("added task not appended: %d vs %d", details[1].ExecutionOrder, details[0].ExecutionOrder)
	}

	// Same desired set again is a no-op.
	res, err = ReplaceJobTasks(gdb, job.ID, []uint{keep.ID, extra.ID})
	if err != nil {
		t.Fatalf("idempotent replace: %v", err)
	}
	if len(res.Added) != 0 || len(res.Removed) != 0 {
		t.Errorf("idempotent replace changed %v / %v", res.Added, res.Removed)
	}
}

func TestOrderedTaskPayload(t *testing.T) {
	gdb := openTestDB(t)
	job, _ := CreateJobWithTasks(gdb, models.CreateJobRequest{
		Name: "j",
		Tasks: []models.TaskSpec{
			{Name: "extract", ScriptType: "python", ScriptContent: "e"},
			{Name: "load", ScriptType: "bash", ScriptContent: "l"},
		},
	}, nil)
	payload, err := OrderedTaskPayload(gdb, job.ID)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(payload) != 2 {
		t.Fatalf("got %d entries", len(payload))
	}
	if payload[0]["name"] != "extract" || payload[1]["name"] != "load" {
		t.Errorf("order: %v", payload)
	}
	if payload[0]["script_type"] != "python" || payload[0]["script_content"] != "e" {
		t.Errorf("entry: %v", payload[0])
	}
}

func TestGetTasksByJobIDMissingJob(t *testing.T) {
	gdb := openTestDB(t)
	if _, err := GetTasksByJobID(gdb, 42); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("got %v, want not found", err)
	}
}
