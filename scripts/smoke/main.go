// Package main runs a smoke test against a running coordinator API.
//
// Tier 1 checks health and conversation start. Tier 2 adds a chat turn and a
// patient summary, which need a configured completion provider. Tier 3 adds
// the admin cache endpoints.
//
// Usage:
//
//	go run ./scripts/smoke --patient=1 [--tier=1|2|3] [--api=URL] [--secret=SECRET]
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

// ---------------------------------------------------------------------------
// Result types
// ---------------------------------------------------------------------------

type checkResult struct {
	Name   string
	Pass   bool
	Detail string
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

var (
	flagPatient string
	flagTier    int
	flagAPI     string
	flagSecret  string
	flagTimeout time.Duration
)

func init() {
	flag.StringVar(&flagPatient, "patient", "1", "Patient ID to exercise")
	flag.IntVar(&flagTier, "tier", 1, "Test tier: 1=health+start, 2=+chat+summary, 3=+cache admin")
	flag.StringVar(&flagAPI, "api", "http://localhost:5001", "API base URL")
	flag.StringVar(&flagSecret, "secret", "", "Admin JWT secret (or ADMIN_JWT_SECRET env)")
	flag.DurationVar(&flagTimeout, "timeout", 90*time.Second, "Per-request timeout")
}

// ---------------------------------------------------------------------------
// JWT
// ---------------------------------------------------------------------------

func adminToken(secret string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "smoke-test",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ---------------------------------------------------------------------------
// Checks
// ---------------------------------------------------------------------------

func checkHealth(client *resty.Client) checkResult {
	var body map[string]any
	resp, err := client.R().SetResult(&body).Get("/health")
	if err != nil {
		return checkResult{Name: "health", Detail: err.Error()}
	}
	if resp.StatusCode() != 200 || body["status"] != "healthy" {
		return checkResult{Name: "health", Detail: fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	return checkResult{Name: "health", Pass: true, Detail: fmt.Sprintf("ai_initialized=%v", body["ai_initialized"])}
}

func checkStart(client *resty.Client, patientID string) checkResult {
	var body map[string]any
	resp, err := client.R().
		SetBody(map[string]string{"patient_id": patientID}).
		SetResult(&body).
		Post("/conversation/start")
	if err != nil {
		return checkResult{Name: "conversation/start", Detail: err.Error()}
	}
	if resp.StatusCode() != 200 {
		return checkResult{Name: "conversation/start", Detail: fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	id, _ := body["conversation_id"].(string)
	if !strings.HasPrefix(id, "conv_"+patientID+"_") {
		return checkResult{Name: "conversation/start", Detail: "unexpected conversation_id " + id}
	}
	return checkResult{Name: "conversation/start", Pass: true, Detail: fmt.Sprint(body["patient_name"])}
}

func checkChat(client *resty.Client, patientID string) checkResult {
	var body map[string]any
	resp, err := client.R().
		SetBody(map[string]any{
			"patient_id": patientID,
			"message":    "Which doctor should I book with, and what appointment type?",
		}).
		SetResult(&body).
		Post("/chat")
	if err != nil {
		return checkResult{Name: "chat", Detail: err.Error()}
	}
	if resp.StatusCode() != 200 {
		return checkResult{Name: "chat", Detail: fmt.Sprintf("status %d: %s", resp.StatusCode(), truncate(resp.String(), 120))}
	}
	detail := truncate(fmt.Sprint(body["response"]), 80)
	if updates, ok := body["form_updates"].(map[string]any); ok {
		detail += fmt.Sprintf(" [form_updates=%d]", len(updates))
	}
	return checkResult{Name: "chat", Pass: true, Detail: detail}
}

func checkSummary(client *resty.Client, patientID string) checkResult {
	var body map[string]any
	resp, err := client.R().SetResult(&body).Get("/patient/" + patientID + "/summary")
	if err != nil {
		return checkResult{Name: "summary", Detail: err.Error()}
	}
	if resp.StatusCode() != 200 {
		return checkResult{Name: "summary", Detail: fmt.Sprintf("status %d: %s", resp.StatusCode(), truncate(resp.String(), 120))}
	}
	return checkResult{Name: "summary", Pass: true, Detail: truncate(fmt.Sprint(body["summary"]), 80)}
}

func checkCacheAdmin(client *resty.Client, token string) []checkResult {
	req := func() *resty.Request {
		r := client.R()
		if token != "" {
			r.SetAuthToken(token)
		}
		return r
	}

	var stats map[string]any
	resp, err := req().SetResult(&stats).Get("/cache/stats")
	statsCheck := checkResult{Name: "cache/stats"}
	switch {
	case err != nil:
		statsCheck.Detail = err.Error()
	case resp.StatusCode() != 200:
		statsCheck.Detail = fmt.Sprintf("status %d", resp.StatusCode())
	default:
		statsCheck.Pass = true
		statsCheck.Detail = fmt.Sprintf("total_entries=%v", stats["total_entries"])
	}

	var cleared map[string]any
	resp, err = req().SetResult(&cleared).Post("/cache/clear")
	clearCheck := checkResult{Name: "cache/clear"}
	switch {
	case err != nil:
		clearCheck.Detail = err.Error()
	case resp.StatusCode() != 200:
		clearCheck.Detail = fmt.Sprintf("status %d", resp.StatusCode())
	default:
		clearCheck.Pass = true
		clearCheck.Detail = fmt.Sprintf("entries_cleared=%v", cleared["entries_cleared"])
	}
	return []checkResult{statsCheck, clearCheck}
}

// ---------------------------------------------------------------------------
// Report
// ---------------------------------------------------------------------------

func printReport(results []checkResult) int {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("  SMOKE TEST  %s  (tier %d, patient %s)\n", flagAPI, flagTier, flagPatient)
	fmt.Println(strings.Repeat("=", 72))
	failed := 0
	for _, r := range results {
		icon := "✅"
		if !r.Pass {
			icon = "❌"
			failed++
		}
		fmt.Printf("  %s %-20s %s\n", icon, r.Name, r.Detail)
	}
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("  %d/%d passed\n", len(results)-failed, len(results))
	return failed
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func main() {
	flag.Parse()
	if flagSecret == "" {
		flagSecret = os.Getenv("ADMIN_JWT_SECRET")
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(flagAPI, "/")).
		SetTimeout(flagTimeout).
		SetHeader("Content-Type", "application/json")

	results := []checkResult{checkHealth(client), checkStart(client, flagPatient)}
	if flagTier >= 2 {
		results = append(results, checkChat(client, flagPatient), checkSummary(client, flagPatient))
	}
	if flagTier >= 3 {
		var token string
		if flagSecret != "" {
			var err error
			if token, err = adminToken(flagSecret); err != nil {
				fmt.Fprintf(os.Stderr, "sign admin token: %v\n", err)
				os.Exit(2)
			}
		}
		results = append(results, checkCacheAdmin(client, token)...)
	}

	if printReport(results) > 0 {
		os.Exit(1)
	}
}
