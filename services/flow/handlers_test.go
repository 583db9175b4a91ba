// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func testRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := testService(t, DefaultConfig())
	router := gin.New()
	SetupRoutes(router, NewHandlers(svc))
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthCheck(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"service":"flow"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandleSubmitPlan_Accepted(t *testing.T) {
	router, svc := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/flow/plans", SubmitPlanRequest{
		Task: "collect and report",
		Plan: chainPlan("echo"),
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	resp := decodeBody[SubmitPlanResponse](t, w)
	if resp.RunID == "" {
		t.Fatal("response carries no run id")
	}
	waitFinished(t, svc, resp.RunID)
}

func TestHandleSubmitPlan_InvalidBody(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/flow/plans", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeBody[ErrorResponse](t, w)
	if resp.Code != "INVALID_REQUEST" {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestHandleSubmitPlan_RejectsCycle(t *testing.T) {
	router, _ := testRouter(t)

	p := chainPlan("echo")
	p.Nodes[0].Dependencies = []string{"b"}
	p.DependencyGraph = nil

	w := doJSON(t, router, http.MethodPost, "/v1/flow/plans", SubmitPlanRequest{Task: "task", Plan: p})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeBody[ErrorResponse](t, w)
	if resp.Code != "INVALID_PLAN" {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestHandleGetRun(t *testing.T) {
	router, svc := testRouter(t)

	if w := doJSON(t, router, http.MethodGet, "/v1/flow/runs/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d", w.Code)
	}

	submit := decodeBody[SubmitPlanResponse](t, doJSON(t, router, http.MethodPost, "/v1/flow/plans", SubmitPlanRequest{
		Task: "task",
		Plan: chainPlan("echo"),
	}))
	waitFinished(t, svc, submit.RunID)

	w := doJSON(t, router, http.MethodGet, "/v1/flow/runs/"+submit.RunID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	status := decodeBody[RunStatusResponse](t, w)
	if status.RunID != submit.RunID || status.State != "completed" {
		t.Errorf("status = %+v", status)
	}
}

func TestHandleListRuns(t *testing.T) {
	router, svc := testRouter(t)

	submit := decodeBody[SubmitPlanResponse](t, doJSON(t, router, http.MethodPost, "/v1/flow/plans", SubmitPlanRequest{
		Task: "task",
		Plan: chainPlan("echo"),
	}))
	waitFinished(t, svc, submit.RunID)

	w := doJSON(t, router, http.MethodGet, "/v1/flow/runs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody[map[string][]RunStatusResponse](t, w)
	if len(body["runs"]) != 1 {
		t.Errorf("listed %d runs, want 1", len(body["runs"]))
	}
}

func TestHandleCancelRun(t *testing.T) {
	router, svc := testRouter(t)

	if w := doJSON(t, router, http.MethodDelete, "/v1/flow/runs/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d", w.Code)
	}

	submit := decodeBody[SubmitPlanResponse](t, doJSON(t, router, http.MethodPost, "/v1/flow/plans", SubmitPlanRequest{
		Task: "task",
		Plan: chainPlan("hang"),
	}))
	time.Sleep(50 * time.Millisecond)

	if w := doJSON(t, router, http.MethodDelete, "/v1/flow/runs/"+submit.RunID, nil); w.Code != http.StatusAccepted {
		t.Errorf("cancel status = %d, body = %s", w.Code, w.Body.String())
	}
	waitFinished(t, svc, submit.RunID)

	w := doJSON(t, router, http.MethodDelete, "/v1/flow/runs/"+submit.RunID, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d", w.Code)
	}
	resp := decodeBody[ErrorResponse](t, w)
	if resp.Code != "RUN_FINISHED" {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestHandleRunEvents(t *testing.T) {
	router, svc := testRouter(t)

	if w := doJSON(t, router, http.MethodGet, "/v1/flow/runs/nope/events", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d", w.Code)
	}

	submit := decodeBody[SubmitPlanResponse](t, doJSON(t, router, http.MethodPost, "/v1/flow/plans", SubmitPlanRequest{
		Task: "task",
		Plan: chainPlan("echo"),
	}))
	waitFinished(t, svc, submit.RunID)

	w := doJSON(t, router, http.MethodGet, "/v1/flow/runs/"+submit.RunID+"/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "run_started") {
		t.Errorf("event history missing run_started: %s", w.Body.String())
	}
}
