// Command gateway is the AegisMind SIEM ingest/query HTTP surface: it wires
// the event normalizer, incident clusterer, correlation engine, and
// change-stream bridge behind a thin gorilla/mux router, per spec.md §1's
// external-collaborator boundary.
package main

import (
	"flag"
	"fmt"
	"os"

	"aegismind-siem/internal/app"
)

func main() {
	var configFile, seedFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.StringVar(&seedFile, "seed-file", "", "Path to a JSON document or array to replay through the pipeline at startup")
	flag.Parse()

	if configFile == "" {
		if envConfigFile := os.Getenv("SIEM_CONFIG_FILE"); envConfigFile != "" {
			configFile = envConfigFile
		} else {
			configFile = "/app/configs/gateway.yaml"
		}
	}

	fmt.Printf("aegismind-siem gateway starting with config: %s\n", configFile)

	application, err := app.New(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create application: %v\n", err)
		os.Exit(1)
	}
	if seedFile != "" {
		application.SetSeedFile(seedFile)
	}

	if err := application.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}
