package main

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	depotctx "github.com/filedepot/filedepot/internal/context"
	"github.com/filedepot/filedepot/internal/storage"
	"github.com/filedepot/filedepot/internal/transfer"
	"github.com/filedepot/filedepot/pkg/bytesize"
	"github.com/filedepot/filedepot/pkg/proto"
)

var (
	loginUsername string
	loginPassword string
	loginContext  string

	uploadChunkSize int64
	uploadMime      string

	lsUser string

	shareWithQR bool

	statsSystem bool
	statsUser   string
)

// apiClient is a thin HTTP client for the depot API. Every request
// carries the saved session token as a bearer credential.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(server, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(server, "/"),
		token: token,
		http: &http.Client{
			Timeout: 5 * time.Minute, // chunk transfers can be slow on bad links
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, // Allow self-signed depot certs
				},
			},
		},
	}
}

// activeClient builds an API client from the active context.
func activeClient() (*apiClient, *depotctx.Context, error) {
	store, err := depotctx.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load context store: %w", err)
	}

	active := store.GetActive()
	if active == nil {
		return nil, nil, fmt.Errorf("no active context; log in first: filedepot login <server-url>")
	}
	if active.Token == "" {
		return nil, nil, fmt.Errorf("context %q has no session; log in again: filedepot login", active.Name)
	}

	return newAPIClient(active.Server, active.Token), active, nil
}

func (c *apiClient) newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON sends a JSON request and decodes a JSON response. A nil in
// sends no body; a nil out discards the response body.
func (c *apiClient) doJSON(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// putChunk uploads one chunk body.
func (c *apiClient) putChunk(fileID string, index int, data []byte) error {
	path := fmt.Sprintf("/api/files/%s/chunks/%d", fileID, index)
	req, err := c.newRequest(http.MethodPut, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// apiError extracts the server's error message from a failed response.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errResp proto.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		return errors.New(errResp.Message)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}

// promptLine reads one trimmed line from stdin.
func promptLine(label string) string {
	fmt.Print(label)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// normalizeServerURL fills in a scheme and strips the trailing slash.
// Plain HTTP is the default; depots usually sit behind a TLS proxy.
func normalizeServerURL(server string) string {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return strings.TrimRight(server, "/")
}

func newRegisterCmd() *cobra.Command {
	registerCmd := &cobra.Command{
		Use:   "register <server-url>",
		Short: "Create an account on a depot",
		Long: `Create a client account on a depot with the default allocation,
then log in and save the session as a context.

Example:
  filedepot register depot.example.com:8080 --username alice`,
		Args: cobra.ExactArgs(1),
		RunE: runRegister,
	}
	registerCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "account username (prompted if omitted)")
	registerCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (prompted if omitted)")
	registerCmd.Flags().StringVar(&loginContext, "context", "", "context name to save the session under (default \"default\")")
	return registerCmd
}

// nolint:revive // args required by cobra.Command RunE signature
func runRegister(cmd *cobra.Command, args []string) error {
	server := normalizeServerURL(args[0])

	username := loginUsername
	if username == "" {
		username = promptLine("Username: ")
	}
	password := loginPassword
	if password == "" {
		password = promptLine("Password: ")
	}

	client := newAPIClient(server, "")
	err := client.doJSON(http.MethodPost, "/api/register", proto.RegisterRequest{
		Username: username,
		Password: password,
	}, nil)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	fmt.Printf("Account %q created on %s.\n", username, server)

	// Log straight in so the context is usable
	loginUsername = username
	loginPassword = password
	return runLogin(cmd, args)
}

func newLoginCmd() *cobra.Command {
	loginCmd := &cobra.Command{
		Use:   "login [server-url]",
		Short: "Log in to a depot",
		Long: `Log in to a FileDepot server and save the session as a context.

The server URL is only needed the first time; later logins reuse the
active context's server.

Examples:
  # First login against a new depot
  filedepot login depot.example.com:8080 --username alice

  # Refresh the session of the active context
  filedepot login

  # Keep work and home depots side by side
  filedepot login depot.work.example.com --username alice --context work`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLogin,
	}
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "account username (prompted if omitted)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (prompted if omitted)")
	loginCmd.Flags().StringVar(&loginContext, "context", "", "context name to save the session under (default \"default\")")
	return loginCmd
}

// nolint:revive // args required by cobra.Command RunE signature
func runLogin(cmd *cobra.Command, args []string) error {
	store, err := depotctx.Load()
	if err != nil {
		return fmt.Errorf("load context store: %w", err)
	}

	// Resolve the target: positional URL, named context, or active context
	name := loginContext
	server := ""
	if len(args) > 0 {
		server = normalizeServerURL(args[0])
	}
	if name == "" {
		if server == "" && store.HasActive() {
			name = store.Active
		} else {
			name = "default"
		}
	}
	if server == "" {
		if existing := store.Get(name); existing != nil {
			server = existing.Server
		}
	}
	if server == "" {
		return fmt.Errorf("no server URL; pass one: filedepot login <server-url>")
	}

	username := loginUsername
	if username == "" {
		if existing := store.Get(name); existing != nil {
			username = existing.Username
		}
	}
	if username == "" {
		username = promptLine("Username: ")
	}
	password := loginPassword
	if password == "" {
		password = promptLine("Password: ")
	}

	client := newAPIClient(server, "")
	var loginResp proto.LoginResponse
	err = client.doJSON(http.MethodPost, "/api/login", proto.LoginRequest{
		Username: username,
		Password: password,
	}, &loginResp)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	store.Add(depotctx.Context{
		Name:     name,
		Server:   server,
		Username: loginResp.Username,
		Token:    loginResp.Token,
	})
	store.Active = name
	if err := store.Save(); err != nil {
		return fmt.Errorf("save context store: %w", err)
	}

	fmt.Printf("Logged in to %s as %s (%s).\n", server, loginResp.Username, loginResp.Role)
	fmt.Printf("Context %q is now active.\n", name)
	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out of the active depot",
		Long:  `Revoke the active context's session on the server and forget the token.`,
		RunE:  runLogout,
	}
}

// nolint:revive // args required by cobra.Command RunE signature
func runLogout(cmd *cobra.Command, args []string) error {
	store, err := depotctx.Load()
	if err != nil {
		return fmt.Errorf("load context store: %w", err)
	}
	active := store.GetActive()
	if active == nil || active.Token == "" {
		fmt.Println("Not logged in.")
		return nil
	}

	client := newAPIClient(active.Server, active.Token)
	if err := client.doJSON(http.MethodPost, "/api/logout", nil, nil); err != nil {
		// The token is dropped locally either way
		fmt.Printf("Warning: server logout failed: %v\n", err)
	}

	active.Token = ""
	store.Add(*active)
	if err := store.Save(); err != nil {
		return fmt.Errorf("save context store: %w", err)
	}

	fmt.Printf("Logged out of context %q.\n", active.Name)
	return nil
}

func newUploadCmd() *cobra.Command {
	uploadCmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file to the depot",
		Long: `Upload a file in chunks.

The file is split client-side; chunks are retransmitted independently,
so a flaky connection only costs the chunk in flight.`,
		Args: cobra.ExactArgs(1),
		RunE: runUpload,
	}
	uploadCmd.Flags().Int64Var(&uploadChunkSize, "chunk-size", 4<<20, "chunk size in bytes")
	uploadCmd.Flags().StringVar(&uploadMime, "mime", "", "MIME type (default: derived from the file extension)")
	return uploadCmd
}

// nolint:revive // args required by cobra.Command RunE signature
func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	if uploadChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}

	client, _, err := activeClient()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	size := info.Size()
	totalChunks := int((size + uploadChunkSize - 1) / uploadChunkSize)

	mimeType := uploadMime
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}

	var file storage.File
	err = client.doJSON(http.MethodPost, "/api/files", proto.InitUploadRequest{
		Filename:    filepath.Base(path),
		MimeType:    mimeType,
		TotalSize:   size,
		TotalChunks: totalChunks,
	}, &file)
	if err != nil {
		return fmt.Errorf("init upload: %w", err)
	}

	fmt.Printf("Uploading %s (%s in %d chunks)...\n", filepath.Base(path), bytesize.Format(size), totalChunks)

	buf := make([]byte, uploadChunkSize)
	for i := 0; i < totalChunks; i++ {
		n, err := io.ReadFull(f, buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("read chunk %d: %w", i, err)
		}
		if err := client.putChunk(file.ID, i, buf[:n]); err != nil {
			return fmt.Errorf("upload chunk %d: %w", i, err)
		}
	}

	if err := client.doJSON(http.MethodPost, "/api/files/"+file.ID+"/finalize", nil, nil); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}

	fmt.Println("Upload complete.")
	fmt.Printf("File ID: %s\n", file.ID)
	return nil
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "download <file-id> [output]",
		Aliases: []string{"get"},
		Short:   "Download a file from the depot",
		Long: `Download a file by its id.

Without an output path the file keeps its uploaded name.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runDownload,
	}
}

// nolint:revive // args required by cobra.Command RunE signature
func runDownload(cmd *cobra.Command, args []string) error {
	fileID := args[0]

	client, _, err := activeClient()
	if err != nil {
		return err
	}

	req, err := client.newRequest(http.MethodGet, "/api/files/"+fileID, nil)
	if err != nil {
		return err
	}
	resp, err := client.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	output := ""
	if len(args) > 1 {
		output = args[1]
	}
	if output == "" {
		if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
			output = filepath.Base(params["filename"])
		}
	}
	if output == "" {
		output = fileID
	}

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	written, err := io.Copy(out, resp.Body)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("write output file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}

	fmt.Printf("Downloaded %s (%s).\n", output, bytesize.Format(written))
	return nil
}

func newLsCmd() *cobra.Command {
	lsCmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List your files",
		RunE:    runLs,
	}
	lsCmd.Flags().StringVar(&lsUser, "user", "", "list another user's files (staff only)")
	return lsCmd
}

// nolint:revive // args required by cobra.Command RunE signature
func runLs(cmd *cobra.Command, args []string) error {
	client, _, err := activeClient()
	if err != nil {
		return err
	}

	path := "/api/files"
	if lsUser != "" {
		path += "?user=" + url.QueryEscape(lsUser)
	}

	var listResp struct {
		Files []*storage.File `json:"files"`
	}
	if err := client.doJSON(http.MethodGet, path, nil, &listResp); err != nil {
		return fmt.Errorf("list files: %w", err)
	}

	if len(listResp.Files) == 0 {
		fmt.Println("No files.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSIZE\tSTATUS\tSHARED\tCREATED")
	for _, f := range listResp.Files {
		shared := ""
		if f.Shared() {
			shared = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f.ID, f.Filename, bytesize.Format(f.TotalSize), f.Status, shared,
			f.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	_ = w.Flush()

	return nil
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <file-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a file from the depot",
		Args:    cobra.ExactArgs(1),
		RunE:    runRm,
	}
}

// nolint:revive // args required by cobra.Command RunE signature
func runRm(cmd *cobra.Command, args []string) error {
	fileID := args[0]

	client, _, err := activeClient()
	if err != nil {
		return err
	}

	if err := client.doJSON(http.MethodDelete, "/api/files/"+fileID, nil, nil); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}

	fmt.Printf("Deleted %s.\n", fileID)
	return nil
}

func newShareCmd() *cobra.Command {
	shareCmd := &cobra.Command{
		Use:   "share <file-id>",
		Short: "Create a public share link for a file",
		Long: `Create a share link anyone can download without logging in.

Sharing the same file again returns the same link.`,
		Args: cobra.ExactArgs(1),
		RunE: runShare,
	}
	shareCmd.Flags().BoolVar(&shareWithQR, "qr", false, "also fetch a QR code for the download URL")
	return shareCmd
}

// nolint:revive // args required by cobra.Command RunE signature
func runShare(cmd *cobra.Command, args []string) error {
	fileID := args[0]

	client, active, err := activeClient()
	if err != nil {
		return err
	}

	path := "/api/files/" + fileID + "/share"
	if shareWithQR {
		path += "/qr"
	}
	method := http.MethodPost
	if shareWithQR {
		method = http.MethodGet
	}

	var shareResp proto.ShareLinkResponse
	if err := client.doJSON(method, path, nil, &shareResp); err != nil {
		return fmt.Errorf("share file: %w", err)
	}

	fmt.Printf("Share link: %s\n", shareResp.Link)
	fmt.Printf("Download URL: %s/api/shared/%s\n", active.Server, shareResp.Link)
	if shareResp.QRCode != "" {
		fmt.Println("\nQR code (open in a browser):")
		fmt.Println(shareResp.QRCode)
	}
	return nil
}

func newStatsCmd() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show storage usage",
		Long: `Show storage usage against your quota.

Staff can inspect another user with --user, or the whole depot with
--system.`,
		RunE: runStats,
	}
	statsCmd.Flags().BoolVar(&statsSystem, "system", false, "show depot-wide usage (staff only)")
	statsCmd.Flags().StringVar(&statsUser, "user", "", "show another user's usage (staff only)")
	return statsCmd
}

// nolint:revive // args required by cobra.Command RunE signature
func runStats(cmd *cobra.Command, args []string) error {
	client, _, err := activeClient()
	if err != nil {
		return err
	}

	if statsSystem {
		var sys transfer.SystemStats
		if err := client.doJSON(http.MethodGet, "/api/system/storage", nil, &sys); err != nil {
			return fmt.Errorf("fetch system stats: %w", err)
		}
		printSystemStats(&sys)
		return nil
	}

	path := "/api/me/storage"
	if statsUser != "" {
		path = "/api/users/" + statsUser + "/storage"
	}

	var stats transfer.StorageStats
	if err := client.doJSON(http.MethodGet, path, nil, &stats); err != nil {
		return fmt.Errorf("fetch storage stats: %w", err)
	}

	fmt.Printf("Storage for %s:\n", stats.Username)
	fmt.Printf("  Allocation: %d GB\n", stats.GBAllocation)
	fmt.Printf("  Used:       %s\n", bytesize.Format(stats.UsedBytes))
	fmt.Printf("  Reserved:   %s\n", bytesize.Format(stats.ReservedBytes))
	fmt.Printf("  Available:  %s\n", bytesize.Format(stats.AvailableBytes))
	return nil
}

func printSystemStats(sys *transfer.SystemStats) {
	fmt.Println("Depot totals:")
	fmt.Printf("  Users:          %d\n", sys.Users)
	fmt.Printf("  Pending files:  %d\n", sys.PendingFiles)
	fmt.Printf("  Complete files: %d\n", sys.CompleteFiles)
	fmt.Printf("  Quota:          %s\n", bytesize.Format(sys.QuotaBytes))
	fmt.Printf("  Used:           %s\n", bytesize.Format(sys.UsedBytes))
	fmt.Printf("  Reserved:       %s\n", bytesize.Format(sys.ReservedBytes))
	if sys.Volume != nil {
		fmt.Println("Chunk volume:")
		fmt.Printf("  Total:          %s\n", bytesize.Format(sys.Volume.TotalBytes))
		fmt.Printf("  Used:           %s\n", bytesize.Format(sys.Volume.UsedBytes))
		fmt.Printf("  Available:      %s\n", bytesize.Format(sys.Volume.AvailableBytes))
	}
}
