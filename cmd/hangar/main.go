package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/facebookgo/clock"

	"github.com/hangarhq/hangar/assets"
	"github.com/hangarhq/hangar/depot"
	"github.com/hangarhq/hangar/registry"
	"github.com/hangarhq/hangar/server"
)

// Config holds the server configuration. All fields can be given in a
// TOML file; the common ones double as command line flags.
type Config struct {
	Port         string
	Storage      string // blob root location, "file:" or "s3:"
	AssetDir     string // asset root. always a local directory
	RegistryPath string // location of the metadata document
	MaxBundles   int    // bundles retained per store. negative is unlimited
}

func main() {
	var configFile = flag.String("config", "", "path to a TOML configuration file")
	var storage = flag.String("storage", ".", "location of the storage directory")
	var port = flag.String("port", "14500", "port number to listen on")
	var maxBundles = flag.Int("max-bundles", -1, "bundles retained per store, negative for unlimited")
	flag.Parse()

	config := Config{
		Port:       *port,
		Storage:    *storage,
		MaxBundles: *maxBundles,
	}
	if *configFile != "" {
		_, err := toml.DecodeFile(*configFile, &config)
		if err != nil {
			log.Fatalf("Error reading configuration %s: %s", *configFile, err)
		}
	}
	// the asset root and metadata document always live on the local disk,
	// so they can only default to a path when the blob storage is one too
	isLocal := !strings.Contains(config.Storage, ":")
	if config.AssetDir == "" {
		if !isLocal {
			log.Fatal("AssetDir must be set when storage is not a local directory")
		}
		config.AssetDir = filepath.Join(config.Storage, "assets")
	}
	if config.RegistryPath == "" {
		if !isLocal {
			log.Fatal("RegistryPath must be set when storage is not a local directory")
		}
		config.RegistryPath = filepath.Join(config.Storage, "registry.json")
	}

	log.Printf("Using storage %s", config.Storage)

	// unwritable blob roots abort startup
	bundles := parselocation(config.Storage, "bundles")
	maps := parselocation(config.Storage, "sourcemaps")
	if bundles == nil || maps == nil {
		log.Fatal("Cannot set up blob storage at ", config.Storage)
	}
	err := os.MkdirAll(config.AssetDir, 0755)
	if err != nil {
		log.Fatal("Cannot set up asset root: ", err)
	}
	reg, err := registry.Open(config.RegistryPath)
	if err != nil {
		log.Fatal("Cannot open registry: ", err)
	}

	d := &depot.Depot{
		Registry:   reg,
		Bundles:    bundles,
		Maps:       maps,
		MaxBundles: config.MaxBundles,
		Clock:      clock.New(),
	}
	srv := &server.RESTServer{
		PortNumber: config.Port,
		Registry:   reg,
		Depot:      d,
		Assets:     assets.NewEngine(config.AssetDir, reg),
	}
	err = srv.Run()
	if err != nil {
		log.Fatal(err)
	}
}
