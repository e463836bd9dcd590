// storectl is a CLI for driving a storefront host through its REST API.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	storectl products
//	storectl cart [-shipping SPEED]
//	storectl add -product ID
//	storectl inc|dec|remove -product ID
//	storectl set -items ID=QTY[,ID=QTY...]
//	storectl email -address EMAIL
//	storectl clear
//	storectl checkout [-shipping SPEED]
//	storectl mount [-container SELECTOR]
//	storectl submit
//	storectl status [-wait]
//	storectl return
//	storectl reset
//
// Examples:
//
//	storectl add -product 1 && storectl add -product 3
//	storectl email -address shopper@example.com
//	storectl checkout -shipping standard
//	storectl submit && storectl status -wait
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

var client = &http.Client{Timeout: 2 * time.Minute}

// Global flags (apply to all commands)
var (
	hostURL string
	quiet   bool
	noColor bool
	verbose bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
	if v := os.Getenv("STOREFRONT_URL"); v != "" {
		hostURL = v
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "products":
		runProducts(args)
	case "cart":
		runCart(args)
	case "add":
		runItem(args, "add")
	case "inc":
		runItem(args, "increment")
	case "dec":
		runItem(args, "decrement")
	case "remove":
		runItem(args, "remove")
	case "set":
		runSet(args)
	case "email":
		runEmail(args)
	case "clear":
		runSimple(args, "clear", "DELETE", "/cart")
	case "checkout":
		runCheckout(args)
	case "mount":
		runMount(args)
	case "submit":
		runSimple(args, "submit", "POST", "/checkout/submit")
	case "status":
		runStatus(args)
	case "return":
		runSimple(args, "return", "POST", "/checkout/return")
	case "reset":
		runSimple(args, "reset", "POST", "/checkout/reset")
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `storectl - storefront host client

Usage:
  storectl <command> [options]

Commands:
  products  List the catalog
  cart      Show the cart (optionally with a shipping estimate)
  add       Add one of a product
  inc       Increase a line's quantity by one
  dec       Decrease a line's quantity by one (removes at 1)
  remove    Remove a line
  set       Replace the whole cart, e.g. -items 1=2,3=1
  email     Set the receipt email
  clear     Empty the cart
  checkout  Start a checkout and mount the payment form
  mount     Retry mounting the payment form
  submit    Submit the payment
  status    Show the checkout state (-wait polls until it settles)
  return    Abandon the checkout and keep the cart
  reset     Clear a finished checkout

The host defaults to http://localhost:8080 or $STOREFRONT_URL.
Run 'storectl <command> -h' for command-specific options.
`)
}

// newFlagSet registers the global flags on a command's flag set.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	defaultURL := hostURL
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	fs.StringVar(&hostURL, "host", defaultURL, "Storefront host base URL")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the essential value")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
	return fs
}

func parse(fs *flag.FlagSet, args []string) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
}

// =============================================================================
// CART COMMANDS
// =============================================================================

func runProducts(args []string) {
	fs := newFlagSet("products")
	parse(fs, args)

	resp, err := doRequest("GET", "/catalog", nil)
	if err != nil {
		fatal("Failed to list products: %v", err)
	}

	products, _ := resp["products"].([]interface{})
	for _, p := range products {
		pm, _ := p.(map[string]interface{})
		if quiet {
			fmt.Println(formatID(pm["id"]))
			continue
		}
		fmt.Printf("  %s%3s%s  %-32v %s$%v%s\n", colorCyan, formatID(pm["id"]), colorReset, pm["name"], colorBold, pm["price"], colorReset)
	}
}

func runCart(args []string) {
	fs := newFlagSet("cart")
	var shipping string
	fs.StringVar(&shipping, "shipping", "", "Shipping speed for the total estimate (budget, standard, express, priority)")
	parse(fs, args)

	path := "/cart"
	if shipping != "" {
		path += "?shipping=" + shipping
	}
	resp, err := doRequest("GET", path, nil)
	if err != nil {
		fatal("Failed to get cart: %v", err)
	}
	printCart(resp)
}

func runItem(args []string, op string) {
	fs := newFlagSet(op)
	var productID int
	fs.IntVar(&productID, "product", 0, "Product ID (required)")
	parse(fs, args)

	if productID <= 0 {
		fs.Usage()
		os.Exit(1)
	}

	var (
		resp map[string]interface{}
		err  error
	)
	item := "/cart/items/" + strconv.Itoa(productID)
	switch op {
	case "add":
		resp, err = doRequest("POST", "/cart/items", map[string]int{"productId": productID})
	case "remove":
		resp, err = doRequest("DELETE", item, nil)
	default:
		resp, err = doRequest("POST", item+"/"+op, nil)
	}
	if err != nil {
		fatal("Failed to %s product %d: %v", op, productID, err)
	}
	printCart(resp)
}

func runSet(args []string) {
	fs := newFlagSet("set")
	var items string
	fs.StringVar(&items, "items", "", "Desired cart as ID=QTY pairs, comma separated (empty clears)")
	parse(fs, args)

	desired, err := parseItems(items)
	if err != nil {
		fatal("%v", err)
	}
	resp, err := doRequest("PUT", "/cart", map[string]interface{}{"items": desired})
	if err != nil {
		fatal("Failed to replace cart: %v", err)
	}
	printCart(resp)
}

// parseItems turns "1=2,3=1" into desired line items.
func parseItems(s string) ([]map[string]int, error) {
	items := []map[string]int{}
	if strings.TrimSpace(s) == "" {
		return items, nil
	}
	for _, pair := range strings.Split(s, ",") {
		id, qty, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("item %q: want ID=QTY", pair)
		}
		productID, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("item %q: bad product id", pair)
		}
		quantity, err := strconv.Atoi(qty)
		if err != nil {
			return nil, fmt.Errorf("item %q: bad quantity", pair)
		}
		items = append(items, map[string]int{"productId": productID, "quantity": quantity})
	}
	return items, nil
}

func runEmail(args []string) {
	fs := newFlagSet("email")
	var address string
	fs.StringVar(&address, "address", "", "Receipt email address (required)")
	parse(fs, args)

	if address == "" {
		fs.Usage()
		os.Exit(1)
	}
	resp, err := doRequest("PUT", "/cart/email", map[string]string{"email": address})
	if err != nil {
		fatal("Failed to set email: %v", err)
	}
	printCart(resp)
}

// =============================================================================
// CHECKOUT COMMANDS
// =============================================================================

func runCheckout(args []string) {
	fs := newFlagSet("checkout")
	var shipping string
	fs.StringVar(&shipping, "shipping", "", "Shipping speed (budget, standard, express, priority)")
	parse(fs, args)

	resp, err := doRequest("POST", "/checkout", map[string]string{"shipping": shipping})
	if err != nil {
		fatal("Failed to start checkout: %v", err)
	}
	printCheckout(resp)
}

func runMount(args []string) {
	fs := newFlagSet("mount")
	var container string
	fs.StringVar(&container, "container", "", "Container selector (defaults to the host's)")
	parse(fs, args)

	resp, err := doRequest("POST", "/checkout/mount", map[string]string{"container": container})
	if err != nil {
		fatal("Failed to mount payment form: %v", err)
	}
	printCheckout(resp)
}

func runStatus(args []string) {
	fs := newFlagSet("status")
	var wait bool
	var interval time.Duration
	fs.BoolVar(&wait, "wait", false, "Poll until the checkout leaves awaiting_confirmation")
	fs.DurationVar(&interval, "interval", 2*time.Second, "Polling interval with -wait")
	parse(fs, args)

	for {
		resp, err := doRequest("GET", "/checkout", nil)
		if err != nil {
			fatal("Failed to get checkout: %v", err)
		}
		state, _ := resp["state"].(string)
		if !wait || (state != "awaiting_confirmation" && state != "payment_submitted") {
			printCheckout(resp)
			return
		}
		printInfo("%s (attempt %s/%s, %ss)", state, formatID(resp["pollAttempts"]), formatID(resp["maxPollAttempts"]), formatID(resp["elapsedSeconds"]))
		time.Sleep(interval)
	}
}

// runSimple handles commands without options of their own.
func runSimple(args []string, name, method, path string) {
	fs := newFlagSet(name)
	parse(fs, args)

	resp, err := doRequest(method, path, nil)
	if err != nil {
		fatal("Failed to %s: %v", name, err)
	}
	if strings.HasPrefix(path, "/cart") {
		printCart(resp)
		return
	}
	printCheckout(resp)
}

// =============================================================================
// HTTP
// =============================================================================

// hostError is the storefront error body.
type hostError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *hostError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

func doRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, strings.TrimSuffix(hostURL, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if verbose {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if verbose {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error hostError `json:"error"`
		}
		if err := json.Unmarshal(respBody, &envelope); err != nil || envelope.Error.Code == "" {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		envelope.Error.Status = resp.StatusCode
		return nil, &envelope.Error
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return result, nil
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printCart(resp map[string]interface{}) {
	if quiet {
		fmt.Println(formatID(resp["count"]))
		return
	}
	items, _ := resp["items"].([]interface{})
	if len(items) == 0 {
		printInfo("Cart is empty")
	}
	for _, it := range items {
		im, _ := it.(map[string]interface{})
		fmt.Printf("  %s%3s%s  %-32v x%-3s %s$%v%s\n", colorCyan, formatID(im["productId"]), colorReset,
			im["name"], formatID(im["quantity"]), colorBold, im["lineTotal"], colorReset)
	}
	fmt.Printf("  Subtotal: %s$%v%s (%s items)\n", colorBold, resp["subtotal"], colorReset, formatID(resp["count"]))
	if total, ok := resp["total"]; ok {
		fmt.Printf("  Total with %v shipping: %s$%v%s\n", resp["shipping"], colorBold, total, colorReset)
	}
	if email, ok := resp["email"].(string); ok && email != "" {
		fmt.Printf("  Email: %s\n", email)
	}
}

func printCheckout(resp map[string]interface{}) {
	state, _ := resp["state"].(string)
	if quiet {
		fmt.Println(state)
		return
	}

	switch state {
	case "succeeded":
		printSuccess("Payment confirmed")
	case "failed", "timed_out":
		printError("Checkout %s", strings.ReplaceAll(state, "_", " "))
	default:
		fmt.Printf("%s● %s%s\n", colorYellow, state, colorReset)
	}
	if orderID, ok := resp["orderId"].(string); ok && orderID != "" {
		fmt.Printf("  Order: %s%s%s\n", colorCyan, orderID, colorReset)
	}
	fmt.Printf("  Total: %s$%v%s\n", colorBold, resp["total"], colorReset)
	if msg, ok := resp["error"].(string); ok && msg != "" {
		printWarning("%s", msg)
	}
	if last, ok := resp["lastOrderId"].(string); ok && last != "" && state == "timed_out" {
		printInfo("Order %s may still be processed; check your email", last)
	}
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}
	fmt.Println(pretty.String())
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Printf("%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

// formatID renders JSON numbers (decoded as float64) without a decimal point.
func formatID(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return "-"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	var he *hostError
	for _, a := range args {
		if err, ok := a.(error); ok && errors.As(err, &he) && he.Code == "CHECKOUT_IN_PROGRESS" {
			msg += " (run 'storectl status' or 'storectl return')"
		}
	}
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, msg, colorReset)
	os.Exit(1)
}
