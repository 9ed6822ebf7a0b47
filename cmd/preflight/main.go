package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	admin := strings.TrimSpace(os.Getenv("ADMIN_API_KEYS"))
	pub := strings.TrimSpace(os.Getenv("PUBLIC_API_KEYS"))
	addr := strings.TrimSpace(os.Getenv("ADDR"))
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	sqlitePath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	region := strings.TrimSpace(os.Getenv("AWS_REGION"))
	tagValue := strings.TrimSpace(os.Getenv("INSTANCE_TAG_VALUE"))
	webhook := strings.TrimSpace(os.Getenv("DISCORD_WEBHOOK"))

	if admin == "" {
		fail("ADMIN_API_KEYS is empty (instance actions will 403).")
	}
	if pub == "" {
		fail("PUBLIC_API_KEYS is empty (read routes will 401).")
	}
	if tagValue == "" {
		fail("INSTANCE_TAG_VALUE is empty; no instances would be managed.")
	}

	for name, v := range map[string]string{"ADMIN_API_KEYS": admin, "PUBLIC_API_KEYS": pub} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	if region == "" {
		warn("AWS_REGION empty; us-east-1 will be assumed.")
	} else {
		ok("AWS_REGION=" + region)
	}

	if addr == "" {
		warn("ADDR is empty; default :8080 will be used.")
	} else {
		ok("ADDR=" + addr)
	}

	switch {
	case db != "":
		ok("DATABASE_URL present (Postgres backend)")
	case sqlitePath != "":
		ok("SQLITE_PATH=" + sqlitePath)
	default:
		warn("No DATABASE_URL or SQLITE_PATH — sessions and alerts will not survive restarts.")
	}

	if webhook == "" {
		warn("DISCORD_WEBHOOK empty — alerts will be recorded but never delivered.")
	} else if !strings.HasPrefix(webhook, "https://") {
		warn("DISCORD_WEBHOOK does not look like an HTTPS URL.")
	} else {
		ok("DISCORD_WEBHOOK present")
	}

	ok("preflight passed")
}
