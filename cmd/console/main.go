package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/defistate/microswap/chains/observer"
	"github.com/defistate/microswap/cmd/console/config"
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/pool/calculator"
	"github.com/defistate/microswap/protocols/router"
	"github.com/defistate/microswap/protocols/router/graph"
	"github.com/defistate/microswap/protocols/tokenregistry"
	"github.com/prometheus/client_golang/prometheus"
)

// --- VISUAL CONSTANTS ---
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"
)

// header prints a styled section header
func header(title string) {
	fmt.Println("\n" + Bold + Cyan + ":: " + title + " ::" + Reset)
}

// SafeState is a thread-safe container for the latest observed router state.
type SafeState struct {
	mu    sync.RWMutex
	state *observer.State
}

func (s *SafeState) Update(newState *observer.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = newState
}

func (s *SafeState) Get() *observer.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	chain, _ := cfg.ChainID()

	// --- 1. SETUP LOGGING (To File) ---
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	rootLogger := slog.New(slog.NewJSONHandler(logFile, nil))

	closeApp := func() {
		fmt.Println("\n" + Red + "Fatal error occurred. Check " + cfg.LogFile + " for details." + Reset)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. DIAL THE STREAM ---
	obs, err := observer.Dial(ctx, cfg.StateStreamURL, chain, rootLogger.With("component", "observer"), prometheus.DefaultRegisterer)
	if err != nil {
		rootLogger.Error("Failed to start observer", "url", cfg.StateStreamURL, "error", err)
		closeApp()
	}

	// --- 3. START CONSOLE & STATE LOOP ---
	safeState := &SafeState{}

	fmt.Println(Green + "Starting Microswap Console..." + Reset)
	fmt.Println("Logs are being written to '" + cfg.LogFile + "'")
	go runConsole(ctx, safeState)

	for {
		select {
		case s := <-obs.State():
			safeState.Update(s)

		case err := <-obs.Err():
			rootLogger.Error("Fatal observer error", "error", err)
			closeApp()

		case <-ctx.Done():
			fmt.Println("\n" + Yellow + "Shutting down..." + Reset)
			obs.Wait()
			return
		}
	}
}

// runConsole handles user input and display.
func runConsole(ctx context.Context, safeState *SafeState) {
	reader := bufio.NewReader(os.Stdin)
	time.Sleep(500 * time.Millisecond)

	for {
		if ctx.Err() != nil {
			return
		}

		printMenu()

		fmt.Print(Bold + "Enter selection: " + Reset)
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("Error reading input:", err)
			continue
		}
		handleCommand(strings.TrimSpace(input), safeState, reader)

		fmt.Println("\n" + Gray + "[Press Enter to continue]" + Reset)
		reader.ReadString('\n')
	}
}

func printMenu() {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(Bold + "MICROSWAP CONSOLE" + Reset + Gray + " | v0.1.0" + Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %s1.%s Current Block Info\n", Cyan, Reset)
	fmt.Printf(" %s2.%s Router Summary\n", Cyan, Reset)
	fmt.Printf(" %s3.%s Find Pool  %s(by Pool ID/Application)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s4.%s Find Pools %s(by Token Symbol)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s5.%s Watch Pool %s(Live Monitor)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s6.%s Route      %s(Best Path Quote)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %sh.%s Help\n", Yellow, Reset)
	fmt.Printf(" %sq.%s Quit\n", Red, Reset)
	fmt.Println("")
}

func handleCommand(input string, safeState *SafeState, reader *bufio.Reader) {
	state := safeState.Get()

	// Allow help and quit even if state isn't ready
	if state == nil && input != "q" && input != "h" {
		fmt.Println("\n" + Yellow + "[INFO] Waiting for first router state... (Check connection/logs)" + Reset)
		return
	}

	switch input {
	case "1":
		printBlockInfo(state)
	case "2":
		printRouterSummary(state)
	case "3":
		findPool(state, reader)
	case "4":
		findPoolsByToken(state, reader)
	case "5":
		watchPool(safeState, reader)
	case "6":
		findRoute(state, reader)
	case "h":
		printHelp()
	case "q":
		exitConsole()
	default:
		fmt.Println(Red + "Unknown command." + Reset)
	}
}

// --- COMMAND HANDLERS ---

func printHelp() {
	fmt.Print("\033[H\033[2J")

	header("MICROSWAP STATE STREAM")
	fmt.Println("The console follows the router chain of a swapnode. Every block the node")
	fmt.Println("publishes a full state or a diff against the last one it sent.")
	fmt.Println("")
	fmt.Println(Bold + "1. ROUTER" + Reset)
	fmt.Println("   Assigns a " + Green + "uint64 pool ID" + Reset + " to every pool application it created")
	fmt.Println("   and keeps the last reserves and prices the pools reported.")
	fmt.Println("")
	fmt.Println(Bold + "2. POOLS" + Reset)
	fmt.Println("   Constant product pools. Token legs live on their own chains and are")
	fmt.Println("   funded through cross chain requests that can be " + Yellow + "pending" + Reset + " for a while.")
	fmt.Println("")
	fmt.Println(Bold + "3. TOKEN GRAPH" + Reset)
	fmt.Println("   Tokens are vertices and pools are edges. " + Cyan + "NAT" + Reset + " is the native asset.")
	fmt.Println("   Routes are quoted against the reserves in the latest state.")
}

func printBlockInfo(state *observer.State) {
	ts := state.Block.Timestamp.Time().Format("15:04:05")
	lag := time.Duration(int64(state.ProcessedAtUnixNs) - state.Block.ReceivedAt)

	fmt.Printf("\n%sSTATUS  ::%s Block %s#%d%s | Hash %s%s%s | Time %s%s%s\n",
		Green, Reset,
		Bold, state.Block.Height, Reset,
		Bold, state.Block.Hash.Hex()[:10], Reset,
		Bold, ts, Reset,
	)
	fmt.Printf("%sOps %d | Messages %d | Rejected %d | Lag %s%s\n",
		Gray, state.Block.Operations, state.Block.Messages, state.Block.Rejected, lag.Round(time.Millisecond), Reset)
}

func printRouterSummary(state *observer.State) {
	header("ROUTER " + state.Router.Short())

	pools := state.Pools.All()
	tokens := state.Tokens.All()
	fmt.Printf("Pools: %s%d%s | Tokens: %s%d%s\n\n", Bold, len(pools), Reset, Bold, len(tokens), Reset)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tNAME\tCHAIN\tPOOLS\t")
	fmt.Fprintln(w, "------\t----\t-----\t-----\t")
	for _, t := range tokens {
		chain := "-"
		if !t.Native() {
			chain = t.ChainID.Short()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t\n", t.Symbol, t.Name, chain, t.Pools)
	}
	w.Flush()
}

func findPool(state *observer.State, reader *bufio.Reader) {
	fmt.Print("\n" + Bold + "[Find Pool] Enter Pool ID or Application (hex): " + Reset)
	p, ok := readPool(state, reader)
	if !ok {
		return
	}
	printPool(state, p)
}

func findPoolsByToken(state *observer.State, reader *bufio.Reader) {
	fmt.Print("\n" + Bold + "[Find Pools] Enter Token Symbol: " + Reset)
	tok, err := readToken(state, reader)
	if err != nil {
		fmt.Println(Red + err.Error() + Reset)
		return
	}

	header("TOKEN DETAILS")
	fmt.Printf(" %s%-10s%s %s\n", Gray, "ID:", Reset, tok.ID.Short())
	fmt.Printf(" %s%-10s%s %s\n", Gray, "Symbol:", Reset, tok.Symbol)
	fmt.Printf(" %s%-10s%s %s\n", Gray, "Name:", Reset, tok.Name)
	fmt.Printf(" %s%-10s%s %d\n", Gray, "Decimals:", Reset, tok.Decimals)

	var found []router.Pool
	for _, p := range state.Pools.All() {
		if p.Token0 == tok.ID || routerSide(p.Token1) == tok.ID {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		fmt.Println(Yellow + "[INFO] Token has no pools." + Reset)
		return
	}

	header(strings.ToUpper(fmt.Sprintf("POOLS FOR %s", tok.Symbol)))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "ID\tPAIRED TOKEN\tRESERVE0\tRESERVE1\tFEE BPS\t")
	fmt.Fprintln(w, "--\t------------\t--------\t--------\t-------\t")
	for _, p := range found {
		paired := routerSide(p.Token1)
		if paired == tok.ID {
			paired = p.Token0
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t\n", p.ID, symbol(state, paired), p.Reserve0, p.Reserve1, p.PoolFeeBps)
	}
	w.Flush()
}

func watchPool(safeState *SafeState, reader *bufio.Reader) {
	state := safeState.Get()
	fmt.Print("\n" + Bold + "[Watch Pool] Enter Pool ID or Application (hex): " + Reset)
	p, ok := readPool(state, reader)
	if !ok {
		return
	}

	fmt.Println(Green + "Starting Live Watch... (Press 'Enter' to stop)" + Reset)
	time.Sleep(1 * time.Second)

	stopCh := make(chan struct{})
	go func() {
		reader.ReadString('\n')
		close(stopCh)
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var lastBlock uint64
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			state := safeState.Get()
			if state == nil || state.Block.Height <= lastBlock {
				continue
			}
			lastBlock = state.Block.Height

			fmt.Print("\033[H\033[2J")
			fmt.Printf(Bold+"\n--- LIVE MONITOR (Block: %d) ---\n"+Reset, state.Block.Height)
			fmt.Println(Gray + "Press ENTER to return to menu." + Reset)

			if current, ok := state.Pools.GetByID(p.ID); ok {
				printPool(state, current)
			} else {
				fmt.Println(Red + "[NOT FOUND] Pool left the router." + Reset)
			}
		}
	}
}

func findRoute(state *observer.State, reader *bufio.Reader) {
	header("ROUTE FINDER")

	fmt.Print(Bold + "1. Enter Input Token Symbol: " + Reset)
	tokenIn, err := readToken(state, reader)
	if err != nil {
		fmt.Println(Red + err.Error() + Reset)
		return
	}
	fmt.Print(Bold + "2. Enter Output Token Symbol: " + Reset)
	tokenOut, err := readToken(state, reader)
	if err != nil {
		fmt.Println(Red + err.Error() + Reset)
		return
	}
	fmt.Print(Bold + "3. Enter Input Amount (e.g. 1.5): " + Reset)
	raw, _ := reader.ReadString('\n')
	amountIn, err := engine.ParseAmount(raw)
	if err != nil {
		fmt.Println(Red + "Invalid amount format." + Reset)
		return
	}

	fmt.Printf("\nRouting %s %s... calculating best path...\n", amountIn, tokenIn.Symbol)
	route, amountOut, candidates := bestRoute(state, tokenIn.ID, tokenOut.ID, amountIn, router.DefaultMaxHops)
	if route == nil {
		fmt.Println(Yellow + "No route found." + Reset)
		return
	}

	header("BEST ROUTE FOUND")
	fmt.Printf("%sEst. Output:%s %s %s (%d candidate paths)\n\n", Bold, Reset, amountOut, tokenOut.Symbol, candidates)
	fmt.Println(Bold + "Route Path:" + Reset)
	for i, hop := range route {
		fmt.Printf(" [ Step %d ]\n", i+1)
		fmt.Printf("  %s%-6s%s\n", Cyan, symbol(state, hop.TokenIn), Reset)
		fmt.Printf("    %s|%s\n", Gray, Reset)
		fmt.Printf("    %s+---[%s pool %d %s]--->%s  %s%-6s%s\n",
			Gray, Reset, hop.Pool, Gray, Reset, Cyan, symbol(state, hop.TokenOut), Reset)
		fmt.Println("")
	}
}

// bestRoute walks every path in the token graph and keeps the largest output.
func bestRoute(state *observer.State, tokenIn, tokenOut engine.ApplicationID, amountIn engine.Amount, maxHops int) ([]graph.Hop, engine.Amount, int) {
	if state.Graph == nil {
		return nil, engine.Amount{}, 0
	}
	paths := state.Graph.Paths(tokenIn, tokenOut, maxHops)
	var (
		best    []graph.Hop
		bestOut engine.Amount
	)
	for _, path := range paths {
		amount := amountIn
		ok := true
		for _, hop := range path {
			p, found := state.Pools.GetByID(hop.Pool)
			if !found {
				ok = false
				break
			}
			r := reserves(state, p)
			out, err := calculator.GetAmountOut(amount, hop.TokenIn == p.Token0, r)
			if err != nil || out.IsZero() {
				ok = false
				break
			}
			amount = out
		}
		if ok && (best == nil || amount.Gt(bestOut)) {
			best, bestOut = path, amount
		}
	}
	return best, bestOut, len(paths)
}

// reserves prefers the pool's own view over the router's cached copy.
func reserves(state *observer.State, p router.Pool) calculator.Reserves {
	if v, ok := state.PoolViews[p.Application]; ok {
		return calculator.Reserves{Reserve0: v.Pool.Reserve0, Reserve1: v.Pool.Reserve1, FeeBps: v.Pool.PoolFeeBps}
	}
	return calculator.Reserves{Reserve0: p.Reserve0, Reserve1: p.Reserve1, FeeBps: p.PoolFeeBps}
}

func printPool(state *observer.State, p router.Pool) {
	printField := func(key string, value any) {
		fmt.Printf("  %s%-18s%s %v\n", Gray, key+":", Reset, value)
	}

	header("ROUTER ENTRY")
	printField("Pool ID", p.ID)
	printField("Application", p.Application.Short())
	printField("Chain", p.ChainID.Short())
	printField("Pair", symbol(state, p.Token0)+"/"+symbol(state, routerSide(p.Token1)))
	printField("Reserve0", p.Reserve0)
	printField("Reserve1", p.Reserve1)
	printField("Price0", p.Price0)
	printField("Price1", p.Price1)
	printField("Fee bps", p.PoolFeeBps)

	v, ok := state.PoolViews[p.Application]
	if !ok {
		fmt.Printf(Yellow+"[WARN] Pool application %s is not on this chain's stream.%s\n", p.Application.Short(), Reset)
		return
	}
	header("POOL STATE")
	printField("Total supply", v.Pool.TotalSupply)
	printField("Protocol fee bps", v.Pool.ProtocolFeeBps)
	printField("Fee to", v.Pool.FeeTo)
	printField("Share holders", len(v.Shares))
	printField("Pending requests", fmt.Sprintf("%s%d%s", Yellow, len(v.PendingRequests), Reset))
	if tx := v.LastTransaction; tx != nil {
		printField("Last transaction", fmt.Sprintf("#%d %s at %s", tx.ID, tx.Type, tx.CreatedAt.Time().Format("15:04:05")))
	}
}

// --- HELPERS ---

func routerSide(t *engine.ApplicationID) engine.ApplicationID {
	if t == nil {
		return tokenregistry.NativeID
	}
	return *t
}

func symbol(state *observer.State, id engine.ApplicationID) string {
	if id == tokenregistry.NativeID {
		return tokenregistry.NativeToken().Symbol
	}
	if t, ok := state.Tokens.GetByID(id); ok {
		return t.Symbol
	}
	return id.Short()
}

func readToken(state *observer.State, reader *bufio.Reader) (tokenregistry.Token, error) {
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return tokenregistry.Token{}, fmt.Errorf("empty input")
	}
	if strings.EqualFold(input, tokenregistry.NativeToken().Symbol) {
		return tokenregistry.NativeToken(), nil
	}
	matches := state.Tokens.GetBySymbol(input)
	switch len(matches) {
	case 0:
		return tokenregistry.Token{}, fmt.Errorf("token %s not found in registry", input)
	case 1:
		return matches[0], nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ChainID.String() < matches[j].ChainID.String() })
	fmt.Printf(Yellow+"[INFO] %d tokens share symbol %s, using the one on chain %s.%s\n",
		len(matches), input, matches[0].ChainID.Short(), Reset)
	return matches[0], nil
}

func readPool(state *observer.State, reader *bufio.Reader) (router.Pool, bool) {
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return router.Pool{}, false
	}
	if id, err := strconv.ParseUint(input, 10, 64); err == nil {
		if p, ok := state.Pools.GetByID(id); ok {
			return p, true
		}
	} else {
		var app engine.ApplicationID
		if err := app.UnmarshalText([]byte(input)); err != nil {
			fmt.Printf(Red+"[ERROR] Invalid application id: %v%s\n", err, Reset)
			return router.Pool{}, false
		}
		if p, ok := state.Pools.GetByApplication(app); ok {
			return p, true
		}
	}
	fmt.Println(Red + "[NOT FOUND] Pool not found in router." + Reset)
	return router.Pool{}, false
}

func exitConsole() {
	fmt.Println(Yellow + "Exiting..." + Reset)
	os.Exit(0)
}

func loadConfig() (*config.ClientConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
