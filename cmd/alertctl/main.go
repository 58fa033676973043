// alertctl is a small operator tool: it registers coordinators directly
// in the database and fires test alerts through a running server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/carebridge/go-care-alerts/internal/config"
	"github.com/carebridge/go-care-alerts/internal/logging"
	"github.com/carebridge/go-care-alerts/internal/models"
	"github.com/carebridge/go-care-alerts/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "add-coordinator":
		addCoordinator(cfg, os.Args[2:])
	case "trigger":
		trigger(cfg, os.Args[2:])
	case "list":
		list(cfg)
	case "delete":
		deleteAlert(cfg, os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: alertctl <add-coordinator|trigger|list|delete> [flags]")
	os.Exit(2)
}

func addCoordinator(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("add-coordinator", flag.ExitOnError)
	id := fs.String("id", "", "coordinator id")
	name := fs.String("name", "", "display name")
	zone := fs.String("zone", "", "coverage zone")
	phone := fs.String("phone", "", "E.164 phone number")
	backup := fs.String("backup", "", "backup coordinator id")
	active := fs.Bool("active", true, "accepts calls")
	fs.Parse(args)

	if *id == "" || *name == "" || *phone == "" {
		fmt.Fprintln(os.Stderr, "add-coordinator: -id, -name and -phone are required")
		os.Exit(2)
	}

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = db.AddCoordinator(ctx, &models.Coordinator{
		ID:       *id,
		Name:     *name,
		Zone:     *zone,
		Phone:    *phone,
		BackupID: *backup,
		Active:   *active,
	})
	if err != nil {
		logging.Fatalf("Failed to add coordinator: %v", err)
	}
	fmt.Printf("coordinator %s registered\n", *id)
}

func trigger(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	client := fs.String("client", "", "client id")
	staff := fs.String("staff", "", "reporting staff id")
	coordinator := fs.String("coordinator", "", "coordinator id")
	alertType := fs.String("type", "assistance", "alert type")
	fs.Parse(args)

	if *client == "" || *staff == "" || *coordinator == "" {
		fmt.Fprintln(os.Stderr, "trigger: -client, -staff and -coordinator are required")
		os.Exit(2)
	}

	body, _ := json.Marshal(map[string]string{
		"client_id":      *client,
		"staff_id":       *staff,
		"coordinator_id": *coordinator,
		"type":           *alertType,
	})

	resp, err := http.Post(serverURL(cfg)+"/api/alerts", "application/json", bytes.NewReader(body))
	if err != nil {
		logging.Fatalf("Failed to reach server: %v", err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		logging.Fatalf("Server rejected alert (%d): %s", resp.StatusCode, out)
	}
	fmt.Println(string(out))
}

func list(cfg *config.Config) {
	resp, err := http.Get(serverURL(cfg) + "/api/alerts")
	if err != nil {
		logging.Fatalf("Failed to reach server: %v", err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		logging.Fatalf("Server error (%d): %s", resp.StatusCode, out)
	}
	fmt.Println(string(out))
}

// deleteAlert hides an alert from listings while keeping the row for
// audit. Works directly against the database.
func deleteAlert(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "alert id")
	fs.Parse(args)

	if *id == "" {
		fmt.Fprintln(os.Stderr, "delete: -id is required")
		os.Exit(2)
	}

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.SoftDeleteAlert(ctx, *id); err != nil {
		logging.Fatalf("Failed to delete alert: %v", err)
	}
	fmt.Printf("alert %s deleted\n", *id)
}

func serverURL(cfg *config.Config) string {
	return fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
}
