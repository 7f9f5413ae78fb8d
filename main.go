package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/ZakariaDjebbes/JP2P/internal/config"
	"github.com/ZakariaDjebbes/JP2P/internal/discovery"
	"github.com/ZakariaDjebbes/JP2P/internal/logging"
	"github.com/ZakariaDjebbes/JP2P/internal/network"
	"github.com/ZakariaDjebbes/JP2P/internal/network/peer"
	"github.com/ZakariaDjebbes/JP2P/internal/storage"
)

const discoverTimeout = 10 * time.Second

type app struct {
	cfg     config.Config
	node    *peer.Node
	shared  *storage.FileManager
	mdns    *discovery.MDNSDiscovery
	logger  *zap.Logger
	scanner *bufio.Scanner
	stop    sync.Once
}

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	name := flag.String("name", "", "peer name, unique across the network")
	port := flag.Int("port", -1, "port to listen on")
	maxPeers := flag.Int("max-peers", 0, "maximum number of known peers")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *name != "" {
		cfg.Name = *name
	}
	if *port >= 0 {
		cfg.Port = *port
	}
	if *maxPeers > 0 {
		cfg.MaxPeers = *maxPeers
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer logger.Sync()

	shared, err := storage.NewFileManager(cfg.SharedDir)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	downloads, err := storage.NewFileManager(cfg.DownloadsDir)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	node, err := peer.NewNode(cfg, shared, downloads, logger)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := node.Start(); err != nil {
		log.Fatalf("❌ %v", err)
	}

	a := &app{
		cfg:     cfg,
		node:    node,
		shared:  shared,
		mdns:    discovery.NewMDNSDiscovery(discovery.ServiceName, logger),
		logger:  logger,
		scanner: bufio.NewScanner(os.Stdin),
	}

	fmt.Printf("🔌 Peer [%s] up and listening for other peers on port [%d]...\n", cfg.Name, node.Port())
	if cfg.MDNS {
		if err := a.mdns.StartAdvertising(cfg.Name, node.Port()); err != nil {
			fmt.Printf("⚠️ Warning: %v\n", err)
		}
	}

	a.setupSignalHandling()
	a.runCommandLineInterface()
}

func (a *app) runCommandLineInterface() {
	a.printHelp()
	for {
		fmt.Printf("%s>", a.cfg.Name)
		if !a.scanner.Scan() {
			a.gracefulShutdown()
			return
		}

		line := strings.TrimSpace(a.scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			a.gracefulShutdown()
			return
		}
		a.invokeCommand(strings.Fields(line))
	}
}

func (a *app) invokeCommand(args []string) {
	switch args[0] {
	case "help":
		a.printHelp()

	case "clear":
		fmt.Print("\033[H\033[2J")

	case "name":
		host, port, ok := hostPortArgs(args)
		if !ok {
			wrongArguments(args)
			return
		}
		res, err := a.node.SendGetName(host, port)
		if err != nil {
			a.reportError(err)
			return
		}
		fmt.Println(res)

	case "knownPeers":
		host, port, ok := hostPortArgs(args)
		if !ok {
			wrongArguments(args)
			return
		}
		res, err := a.node.SendGetKnownPeers(host, port)
		if err != nil {
			a.reportError(err)
			return
		}
		fmt.Println(res)

	case "itsMe":
		host, port, ok := hostPortArgs(args)
		if !ok {
			wrongArguments(args)
			return
		}
		a.introduce(host, port)

	case "bye":
		host, port, ok := hostPortArgs(args)
		if !ok {
			wrongArguments(args)
			return
		}
		a.bye(host, port)

	case "file":
		if len(args) != 3 {
			wrongArguments(args)
			return
		}
		bounces, err := strconv.Atoi(args[2])
		if err != nil {
			wrongArguments(args)
			return
		}
		a.findFile(args[1], bounces)

	case "download":
		a.download(args[1:])

	case "peers":
		a.listKnownPeers()

	case "files":
		a.listSharedFiles()

	case "discover":
		a.discover()

	default:
		fmt.Println("Unknown command. Type help to see the list of commands.")
	}
}

func wrongArguments(args []string) {
	fmt.Printf("Wrong arguments for command [%s]\n", strings.Join(args, " "))
}

func hostPortArgs(args []string) (string, int, bool) {
	if len(args) != 3 {
		return "", 0, false
	}
	port, err := strconv.Atoi(args[2])
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, false
	}
	return args[1], port, true
}

func (a *app) introduce(host string, port int) {
	intro, err := a.node.Introduce(host, port)
	if err != nil {
		a.reportError(err)
		return
	}

	switch err := network.OutcomeError(intro.Remote); {
	case err == nil:
		fmt.Printf("✅ %s added us to its list of peers. Welcome!\n", intro.Peer.Name)
	case errors.Is(err, network.ErrDuplicate):
		fmt.Printf("ℹ️ %s already knew us.\n", intro.Peer.Name)
	case errors.Is(err, network.ErrCapacity):
		fmt.Printf("⚠️ The list of peers of %s is full.\n", intro.Peer.Name)
	default:
		a.reportError(err)
	}

	switch err := network.OutcomeError(intro.Local); {
	case err == nil:
		fmt.Printf("✅ %s added to our known peers.\n", intro.Peer)
	case errors.Is(err, network.ErrDuplicate):
		fmt.Printf("ℹ️ %s is already one of our known peers.\n", intro.Peer.Name)
	case errors.Is(err, network.ErrCapacity):
		fmt.Printf("⚠️ Our list of peers is full (%d), %s was not added.\n", a.cfg.MaxPeers, intro.Peer.Name)
	}
}

func (a *app) bye(host string, port int) {
	res, err := a.node.Disconnect(host, port)
	if err != nil {
		a.reportError(err)
		return
	}

	switch network.OutcomeError(res) {
	case nil:
		fmt.Println("👋 Successfully disconnected. Bye!")
	default:
		fmt.Println("ℹ️ That peer did not know us.")
	}
}

func (a *app) findFile(fileName string, bounces int) {
	since := a.node.Catalog().Len()
	sent, err := a.node.SendFindFile(fileName, bounces)
	if err != nil {
		a.reportError(err)
		return
	}
	fmt.Printf("🔍 Finding file %s in the network with %d bounces (%d peers asked)...\n", fileName, bounces, sent)

	if a.cfg.SearchTimeout <= 0 {
		return
	}
	go func() {
		found, err := a.node.AwaitResults(context.Background(), since)
		if err != nil {
			fmt.Println()
			a.reportError(err)
			return
		}
		fmt.Printf("\n📥 %d new file(s) found, use download to list them.\n", found)
	}()
}

func (a *app) download(args []string) {
	files := a.node.Catalog().List()
	if len(files) == 0 {
		fmt.Println("No files found yet, use the file command to find files on the network.")
		return
	}

	var index int
	if len(args) > 0 {
		i, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Printf("Invalid file ID %q\n", args[0])
			return
		}
		index = i
	} else {
		printCatalog(files)
		fmt.Print("Enter the ID of the file you want to download (or -1 to cancel): ")
		if !a.scanner.Scan() {
			return
		}
		i, err := strconv.Atoi(strings.TrimSpace(a.scanner.Text()))
		if err != nil {
			fmt.Println("Invalid file ID")
			return
		}
		index = i
	}

	if index == -1 {
		fmt.Println("Canceling...")
		return
	}

	var bar *progressbar.ProgressBar
	progress := func(downloaded, total int64) {
		if bar == nil {
			bar = progressbar.NewOptions64(total,
				progressbar.OptionSetDescription("📦 Downloading"),
				progressbar.OptionShowBytes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetElapsedTime(true),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "█",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
		}
		_ = bar.Set64(downloaded)
	}

	fmt.Println("Downloading file...")
	downloaded, err := a.node.SendDownload(index, progress)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		a.reportError(err)
		if downloaded > 0 {
			fmt.Printf("💾 %d bytes kept, run download %d again to resume.\n", downloaded, index)
		}
		return
	}
	fmt.Printf("✅ Downloaded %d bytes and saved them to %s.\n", downloaded, a.cfg.DownloadsDir)
}

func printCatalog(files []storage.DiscoveredFile) {
	fmt.Printf("Found %d files:\n", len(files))
	fmt.Println("ID \t File name \t Size \t Peer \t Was Downloaded")
	for i, f := range files {
		status := "No"
		switch {
		case f.Completed:
			status = "Yes"
		case f.DownloadedBytes > 0:
			status = fmt.Sprintf("Partial (%d/%d)", f.DownloadedBytes, f.FileSize)
		}
		fmt.Printf("%d. \t%s \t%d \t%s \t%s\n", i, f.FileName, f.FileSize, f.PeerName, status)
	}
}

func (a *app) listKnownPeers() {
	peers := a.node.Registry().List()
	fmt.Printf("\nKnown peers (%d/%d):\n", len(peers), a.node.Registry().Capacity())
	if len(peers) == 0 {
		fmt.Println("No known peers")
		return
	}
	for i, p := range peers {
		fmt.Printf("%d. %s\n", i+1, p)
	}
}

func (a *app) listSharedFiles() {
	files, err := a.shared.ListFiles()
	if err != nil {
		fmt.Printf("❌ Error listing shared files: %v\n", err)
		return
	}

	fmt.Printf("\nShared files in %s:\n", a.shared.Dir())
	if len(files) == 0 {
		fmt.Println("  No files available")
		return
	}
	for i, f := range files {
		fmt.Printf("  %d. %s (%d bytes)\n", i+1, f.Name, f.Size)
	}
}

func (a *app) discover() {
	fmt.Println("🔍 Browsing for peers on the local network...")
	ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
	defer cancel()

	services, err := a.mdns.DiscoverPeers(ctx, a.cfg.Name)
	if err != nil {
		fmt.Printf("❌ Error discovering peers: %v\n", err)
		return
	}
	if len(services) == 0 {
		fmt.Println("⚠️ No peers found.")
		return
	}

	for _, svc := range services {
		fmt.Printf("   ➡ %s at %s:%d\n", svc.Name, svc.Address, svc.Port)
		a.introduce(svc.Address, svc.Port)
	}
}

// reportError prints one distinct message per error condition.
func (a *app) reportError(err error) {
	a.logger.Debug("command failed", zap.Error(err))

	switch {
	case errors.Is(err, network.ErrNoKnownPeers):
		fmt.Println("This Peer doesn't know any other peer for now. Add peers first.")
	case errors.Is(err, network.ErrPeerNotFound):
		fmt.Println("You are trying to interact with a peer that is no longer connected to the network.")
	case errors.Is(err, network.ErrSearchTimeout):
		fmt.Println("⏳ No peer answered the search in time.")
	case errors.Is(err, network.ErrNotFound):
		fmt.Printf("❌ Not found: %v\n", err)
	case errors.Is(err, network.ErrCapacity):
		fmt.Println("⚠️ The list of peers is full.")
	case errors.Is(err, network.ErrDuplicate):
		fmt.Println("ℹ️ Already known.")
	case errors.Is(err, network.ErrProtocolFormat):
		fmt.Printf("❌ Protocol error: %v\n", err)
	case errors.Is(err, network.ErrTransport):
		fmt.Println("An error occurred while interacting with the network. Are you sure the peer is still connected?")
	default:
		fmt.Printf("❌ %v\n", err)
	}
}

func (a *app) printHelp() {
	fmt.Println(`List of commands (type help to see it again or clear to clear the console):
- name [hostname] [port number] : Asks the peer at the specified hostname and port number to send its name.
- knownPeers [hostname] [port number] : Gets the list of known peers of the peer at the specified hostname and port number.
- itsMe [hostname] [port number] : Introduces this peer to the peer at the specified hostname and port number, and adds it to our known peers.
- bye [hostname] [port number] : Tells the peer at the specified hostname and port number that you are leaving.
- file [fileName.ext] [bounces] : Finds the file in the network.
- download [ID] : Downloads a file previously found with the file command, resuming interrupted downloads.
- peers : Lists the peers this peer knows.
- files : Lists the files this peer shares.
- discover : Finds peers on the local network and introduces this peer to them.
- exit : Says bye to every known peer and quits.`)
}

func (a *app) setupSignalHandling() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("\nReceived termination signal")
		a.gracefulShutdown()
		os.Exit(0)
	}()
}

func (a *app) gracefulShutdown() {
	a.stop.Do(a.shutdown)
}

func (a *app) shutdown() {
	fmt.Println("Saying bye to known peers...")
	acked := a.node.Leave()
	fmt.Printf("👋 %d peer(s) notified\n", acked)

	a.mdns.StopAdvertising()
	if err := a.node.Close(); err != nil {
		a.logger.Warn("failed to close node", zap.Error(err))
	}
	fmt.Println("Shutdown complete")
}
