// inspectctl is the operator CLI for the screw inspection gateway. It
// drives the same SDK that external integrations use.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zulfikar2701/sakae-riken-screws-detection/pkg/sdk"
)

var (
	// Global flags
	serverURL string
	token     string
	timeout   time.Duration
	asJSON    bool

	// submit flags
	submitSource     string
	submitBackground bool
	submitPresigned  bool
	submitOutput     string

	// status flags
	statusWait     bool
	statusInterval time.Duration

	// fetch flags
	fetchOriginal bool
	fetchOutput   string

	// login flags
	loginKey       string
	loginPrincipal string

	// list flags
	listStatus string
	listSource string
	listLimit  int
	listOffset int
)

var rootCmd = &cobra.Command{
	Use:   "inspectctl",
	Short: "CLI for the screw inspection gateway",
	Long: `inspectctl submits component photos for screw inspection and tracks
them through the shared-bucket handshake with the inference worker.

The server address can also be set with INSPECTCTL_SERVER and the
operator token with INSPECTCTL_TOKEN.`,
	SilenceUsage: true,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange the operator key for a session token",
	Long: `Prints a bearer token for the operator endpoints.

Example:
  export INSPECTCTL_TOKEN=$(inspectctl login --operator-key "$KEY")`,
	RunE: runLogin,
}

var submitCmd = &cobra.Command{
	Use:   "submit [image-path]",
	Short: "Submit a component photo for inspection",
	Long: `Uploads the image and, by default, blocks until the inspection
reaches a terminal state, then prints the outcome record.

With --presigned the image is posted straight to the bucket using a
credential minted by the gateway, mirroring what camera clients do.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status [inspection-id]",
	Short: "Show one inspection record",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [inspection-id]",
	Short: "Download the labelled result image",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List inspections (requires operator token)",
	RunE:  runList,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show inspection counts by status (requires operator token)",
	RunE:  runStats,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [inspection-id]",
	Short: "Delete an inspection and its bucket objects (requires operator token)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("INSPECTCTL_SERVER", "http://localhost:8080/api/v1"), "Gateway API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("INSPECTCTL_TOKEN"), "Operator bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print raw JSON instead of a summary")

	loginCmd.Flags().StringVar(&loginKey, "operator-key", os.Getenv("INSPECTCTL_OPERATOR_KEY"), "Shared operator key")
	loginCmd.Flags().StringVar(&loginPrincipal, "principal", "", "Operator name recorded in the token")

	submitCmd.Flags().StringVar(&submitSource, "source", "", "Submission source: camera or upload")
	submitCmd.Flags().BoolVar(&submitBackground, "background", false, "Return as soon as the image is in the bucket")
	submitCmd.Flags().BoolVar(&submitPresigned, "presigned", false, "Upload to the bucket client-side with a presigned credential")
	submitCmd.Flags().StringVarP(&submitOutput, "output", "o", "", "Save the labelled result to this path when the inspection completes")

	statusCmd.Flags().BoolVar(&statusWait, "wait", false, "Poll until the inspection reaches a terminal state")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "Poll interval for --wait")

	fetchCmd.Flags().BoolVar(&fetchOriginal, "original", false, "Download the submitted image instead of the result")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Output path (default derives from the inspection id)")

	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	listCmd.Flags().StringVar(&listSource, "source", "", "Filter by source")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Page size")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Page offset")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(deleteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *sdk.Client {
	client := sdk.NewClient(serverURL)
	if token != "" {
		client.SetToken(token)
	}
	return client
}

func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		timeoutCancel()
		cancel()
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(loginKey) == "" {
		return fmt.Errorf("--operator-key is required")
	}
	ctx, cancel := commandContext()
	defer cancel()

	client := sdk.NewClient(serverURL)
	if err := client.Authenticate(ctx, loginKey, loginPrincipal); err != nil {
		return err
	}
	fmt.Println(client.Token())
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx, cancel := commandContext()
	defer cancel()

	client := newClient()
	var insp *sdk.Inspection
	var err error

	if submitPresigned {
		payload, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		insp, err = client.SubmitPresigned(ctx, sdk.PresignedSubmitRequest{
			Source:      submitSource,
			FileName:    filepath.Base(path),
			ContentType: contentTypeForPath(path),
			Payload:     payload,
			Background:  submitBackground,
		})
	} else {
		file, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		defer file.Close()
		insp, err = client.Submit(ctx, sdk.SubmitRequest{
			Source:     submitSource,
			File:       file,
			FileName:   filepath.Base(path),
			Background: submitBackground,
		})
	}
	if err != nil {
		return err
	}

	if err := printInspection(insp); err != nil {
		return err
	}

	if submitOutput != "" && insp.Status == sdk.StatusCompleted {
		if err := saveResult(ctx, client, insp.ID, submitOutput); err != nil {
			return err
		}
		fmt.Printf("labelled result saved to %s\n", submitOutput)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid inspection id %q", args[0])
	}
	ctx, cancel := commandContext()
	defer cancel()

	client := newClient()
	var insp *sdk.Inspection
	if statusWait {
		insp, err = client.WaitTerminal(ctx, id, statusInterval)
	} else {
		insp, err = client.Get(ctx, id)
	}
	if err != nil {
		return err
	}
	return printInspection(insp)
}

func runFetch(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid inspection id %q", args[0])
	}
	ctx, cancel := commandContext()
	defer cancel()

	output := fetchOutput
	if output == "" {
		if fetchOriginal {
			output = fmt.Sprintf("original_%s.jpg", id)
		} else {
			output = fmt.Sprintf("labelled_%s.jpg", id)
		}
	}

	client := newClient()
	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()

	if fetchOriginal {
		err = client.Original(ctx, id, out)
	} else {
		err = client.Result(ctx, id, out)
	}
	if err != nil {
		_ = os.Remove(output)
		return err
	}
	fmt.Printf("saved to %s\n", output)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	client := newClient()
	resp, err := client.List(ctx, sdk.ListRequest{
		Status: sdk.Status(listStatus),
		Source: listSource,
		Limit:  listLimit,
		Offset: listOffset,
	})
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(resp)
	}
	if len(resp.Inspections) == 0 {
		fmt.Println("no inspections")
		return nil
	}
	for _, insp := range resp.Inspections {
		line := fmt.Sprintf("%s  %-15s  %-6s  %s", insp.ID, insp.Status, insp.Source, insp.SubmittedAt.Format(time.RFC3339))
		if insp.FailureReason != nil {
			line += "  " + *insp.FailureReason
		}
		fmt.Println(line)
	}
	fmt.Printf("showing %d (offset %d)\n", len(resp.Inspections), resp.Offset)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	stats, err := newClient().Stats(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(stats)
	}

	fmt.Printf("total: %d\n", stats.Total)
	for _, status := range []sdk.Status{
		sdk.StatusPending,
		sdk.StatusUploading,
		sdk.StatusAwaitingResult,
		sdk.StatusCompleted,
		sdk.StatusUploadFailed,
		sdk.StatusTimedOut,
	} {
		if count, ok := stats.ByStatus[status]; ok && count > 0 {
			fmt.Printf("  %-15s %d\n", status, count)
		}
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid inspection id %q", args[0])
	}
	ctx, cancel := commandContext()
	defer cancel()

	if err := newClient().Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", id)
	return nil
}

func saveResult(ctx context.Context, client *sdk.Client, id uuid.UUID, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := client.Result(ctx, id, out); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func printInspection(insp *sdk.Inspection) error {
	if asJSON {
		return printJSON(insp)
	}

	fmt.Printf("id:         %s\n", insp.ID)
	fmt.Printf("status:     %s\n", insp.Status)
	fmt.Printf("source:     %s\n", insp.Source)
	if insp.FileName != nil {
		fmt.Printf("file:       %s\n", *insp.FileName)
	}
	fmt.Printf("submitted:  %s\n", insp.SubmittedAt.Format(time.RFC3339))
	if insp.UploadedAt != nil {
		fmt.Printf("uploaded:   %s (attempts: %d)\n", insp.UploadedAt.Format(time.RFC3339), insp.UploadAttempts)
	}
	if insp.CompletedAt != nil {
		fmt.Printf("completed:  %s (polls: %d)\n", insp.CompletedAt.Format(time.RFC3339), insp.PollAttempts)
	}
	if insp.FailureReason != nil {
		fmt.Printf("failure:    %s\n", *insp.FailureReason)
	}
	if insp.ResultURL != "" {
		fmt.Printf("result:     %s\n", insp.ResultURL)
	}
	return nil
}

func printJSON(v any) error {
	data, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func contentTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
