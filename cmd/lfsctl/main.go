// Command lfsctl is a thin CLI client for the master's HTTP control
// surface: chunkserver listing, availability/replication dumps, and goal
// reloads (SPEC_FULL.md §2's admin surface).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var masterAddr string
	rootCmd := &cobra.Command{
		Use:   "lfsctl",
		Short: "Admin CLI for the master daemon",
	}
	rootCmd.PersistentFlags().StringVar(&masterAddr, "master", "http://localhost:9421", "master HTTP control address")

	rootCmd.AddCommand(
		chunkserversCmd(&masterAddr),
		availabilityCmd(&masterAddr),
		replicationCmd(&masterAddr),
		stuckCmd(&masterAddr),
		reloadGoalsCmd(&masterAddr),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run:   func(cmd *cobra.Command, args []string) { fmt.Println(version) },
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(addr, path string) error {
	resp, err := httpClient.Get(addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s: %s", path, resp.Status, string(body))
	}
	return prettyPrint(resp.Body)
}

func postJSON(addr, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(addr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s: %s", path, resp.Status, string(b))
	}
	if len(bytes.TrimSpace(b)) == 0 {
		fmt.Println("ok")
		return nil
	}
	return prettyPrint(bytes.NewReader(b))
}

func prettyPrint(r io.Reader) error {
	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func chunkserversCmd(masterAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chunkservers",
		Short: "List registered chunkservers and their placement weight/load",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(*masterAddr, "/chunkservers")
		},
	}
}

func availabilityCmd(masterAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "availability",
		Short: "Dump chunk availability state counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(*masterAddr, "/availability")
		},
	}
}

func replicationCmd(masterAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "replication",
		Short: "Dump chunk replication state counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(*masterAddr, "/replication")
		},
	}
}

func stuckCmd(masterAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stuck",
		Short: "List chunks the worker has given up retrying",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(*masterAddr, "/stuck")
		},
	}
}

func reloadGoalsCmd(masterAddr *string) *cobra.Command {
	var goalFlags []string
	cmd := &cobra.Command{
		Use:   "reload-goals",
		Short: "Replace the master's goal set, e.g. --goal default=2 --goal archive=3",
		RunE: func(cmd *cobra.Command, args []string) error {
			goals := make(map[string]struct {
				Copies int `json:"copies"`
			}, len(goalFlags))
			for _, g := range goalFlags {
				name, n, ok := strings.Cut(g, "=")
				copies, err := strconv.Atoi(n)
				if !ok || name == "" || err != nil {
					return fmt.Errorf("invalid --goal %q, expected name=copies", g)
				}
				goals[name] = struct {
					Copies int `json:"copies"`
				}{Copies: copies}
			}
			return postJSON(*masterAddr, "/goals/reload", goals)
		},
	}
	cmd.Flags().StringArrayVar(&goalFlags, "goal", nil, "name=copies, repeatable")
	return cmd
}
