// Package main is the entry point for the saltfish admin CLI.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/reinferio/saltfish/internal/dataset"
	"github.com/reinferio/saltfish/internal/ids"
	"github.com/reinferio/saltfish/internal/schema"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	serverURL string
	output    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "saltfish-admin",
		Short: "Admin CLI for saltfish",
		Long:  `A command-line tool for managing datasets and records in a saltfish deployment.`,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:5555", "Saltfish server URL")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json")

	// Dataset commands
	datasetCmd := &cobra.Command{
		Use:     "dataset",
		Aliases: []string{"datasets"},
		Short:   "Manage datasets",
	}

	datasetListCmd := &cobra.Command{
		Use:   "list",
		Short: "List datasets for a user",
		RunE:  listDatasets,
	}
	datasetListCmd.Flags().Int64("user-id", 0, "List by numeric user id")
	datasetListCmd.Flags().String("username", "", "List by username")

	datasetGetCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a dataset by its base64url id",
		Args:  cobra.ExactArgs(1),
		RunE:  getDataset,
	}

	datasetCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new dataset",
		RunE:  createDataset,
	}
	datasetCreateCmd.Flags().Int64("user-id", 0, "Owning user id (required)")
	datasetCreateCmd.Flags().String("name", "", "Dataset name (required)")
	datasetCreateCmd.Flags().String("schema-file", "", "Path to a JSON schema file (required)")
	datasetCreateCmd.Flags().Bool("private", false, "Mark the dataset private")
	datasetCreateCmd.Flags().Bool("frozen", false, "Mark the dataset frozen")
	_ = datasetCreateCmd.MarkFlagRequired("user-id")
	_ = datasetCreateCmd.MarkFlagRequired("name")
	_ = datasetCreateCmd.MarkFlagRequired("schema-file")

	datasetDeleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a dataset by its base64url id",
		Args:  cobra.ExactArgs(1),
		RunE:  deleteDataset,
	}

	datasetSummaryCmd := &cobra.Command{
		Use:   "summary <id>",
		Short: "Show the streaming statistics summary for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE:  getSummary,
	}

	datasetCmd.AddCommand(datasetListCmd, datasetGetCmd, datasetCreateCmd, datasetDeleteCmd, datasetSummaryCmd)

	// Record commands
	recordCmd := &cobra.Command{
		Use:     "record",
		Aliases: []string{"records"},
		Short:   "Manage records",
	}

	recordPutCmd := &cobra.Command{
		Use:   "put <dataset-id>",
		Short: "Store records from a JSON file into a dataset",
		Args:  cobra.ExactArgs(1),
		RunE:  putRecords,
	}
	recordPutCmd.Flags().String("file", "", "Path to a JSON file holding an array of records (required)")
	recordPutCmd.Flags().String("source", "", "Source tag applied to every record")
	_ = recordPutCmd.MarkFlagRequired("file")

	recordCmd.AddCommand(recordPutCmd)

	// ID generation
	generateIDCmd := &cobra.Command{
		Use:   "generate-id",
		Short: "Generate unused dataset ids",
		RunE:  generateIDs,
	}
	generateIDCmd.Flags().Int("count", 1, "Number of ids to generate")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("saltfish-admin %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}

	rootCmd.AddCommand(datasetCmd, recordCmd, generateIDCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// rpcCall posts a request to an RPC endpoint and decodes the response.
// A non-OK status in the response body is returned as an error.
func rpcCall(path string, reqBody any, respBody any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(serverURL, "/") + path
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, errBody["msg"])
	}

	return json.NewDecoder(resp.Body).Decode(respBody)
}

func statusError(status dataset.Status, msg string) error {
	if msg != "" {
		return fmt.Errorf("%s: %s", status, msg)
	}
	return fmt.Errorf("%s", status)
}

func listDatasets(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetInt64("user-id")
	username, _ := cmd.Flags().GetString("username")

	req := dataset.GetDatasetsRequest{}
	switch {
	case username != "":
		req.Username = &username
	case cmd.Flags().Changed("user-id"):
		req.UserID = &userID
	default:
		return fmt.Errorf("one of --user-id or --username is required")
	}

	var resp dataset.GetDatasetsResponse
	if err := rpcCall("/rpc/get-datasets", req, &resp); err != nil {
		return err
	}
	if resp.Status != dataset.StatusOK {
		return statusError(resp.Status, resp.Msg)
	}

	return printDatasets(resp.Datasets)
}

func getDataset(cmd *cobra.Command, args []string) error {
	id, err := ids.DecodeID(args[0])
	if err != nil {
		return fmt.Errorf("invalid dataset id: %w", err)
	}

	var resp dataset.GetDatasetsResponse
	if err := rpcCall("/rpc/get-datasets", dataset.GetDatasetsRequest{DatasetID: id}, &resp); err != nil {
		return err
	}
	if resp.Status != dataset.StatusOK {
		return statusError(resp.Status, resp.Msg)
	}

	return printDatasets(resp.Datasets)
}

func printDatasets(datasets []dataset.DatasetInfo) error {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(datasets)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tNAME\tPRIVATE\tFROZEN\tCREATED")
	for _, d := range datasets {
		fmt.Fprintf(w, "%s\t%d\t%s\t%v\t%v\t%s\n",
			ids.EncodeID(d.ID),
			d.UserID,
			d.Name,
			d.Private,
			d.Frozen,
			d.Created.Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func createDataset(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetInt64("user-id")
	name, _ := cmd.Flags().GetString("name")
	schemaFile, _ := cmd.Flags().GetString("schema-file")
	private, _ := cmd.Flags().GetBool("private")
	frozen, _ := cmd.Flags().GetBool("frozen")

	data, err := os.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	var sch schema.Schema
	if err := json.Unmarshal(data, &sch); err != nil {
		return fmt.Errorf("failed to parse schema file: %w", err)
	}

	var resp dataset.CreateDatasetResponse
	err = rpcCall("/rpc/create-dataset", dataset.CreateDatasetRequest{
		Dataset: dataset.DatasetSpec{
			UserID:  userID,
			Schema:  sch,
			Name:    name,
			Private: private,
			Frozen:  frozen,
		},
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Status != dataset.StatusOK {
		return statusError(resp.Status, resp.Msg)
	}

	fmt.Println(ids.EncodeID(resp.DatasetID))
	return nil
}

func deleteDataset(cmd *cobra.Command, args []string) error {
	id, err := ids.DecodeID(args[0])
	if err != nil {
		return fmt.Errorf("invalid dataset id: %w", err)
	}

	var resp dataset.DeleteDatasetResponse
	if err := rpcCall("/rpc/delete-dataset", dataset.DeleteDatasetRequest{DatasetID: id}, &resp); err != nil {
		return err
	}
	if resp.Status != dataset.StatusOK {
		return statusError(resp.Status, resp.Msg)
	}

	if resp.Updated {
		fmt.Println("deleted")
	} else {
		fmt.Println("not found")
	}
	return nil
}

func getSummary(cmd *cobra.Command, args []string) error {
	if _, err := ids.DecodeID(args[0]); err != nil {
		return fmt.Errorf("invalid dataset id: %w", err)
	}

	url := strings.TrimSuffix(serverURL, "/") + "/rpc/datasets/" + args[0] + "/summary"
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var summary json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(summary))
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, summary, "", "  "); err != nil {
		return err
	}
	fmt.Println(indented.String())
	return nil
}

func putRecords(cmd *cobra.Command, args []string) error {
	id, err := ids.DecodeID(args[0])
	if err != nil {
		return fmt.Errorf("invalid dataset id: %w", err)
	}

	file, _ := cmd.Flags().GetString("file")
	source, _ := cmd.Flags().GetString("source")

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read records file: %w", err)
	}
	var records []schema.TaggedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse records file: %w", err)
	}

	var resp dataset.PutRecordsResponse
	err = rpcCall("/rpc/put-records", dataset.PutRecordsRequest{
		DatasetID: id,
		Records:   records,
		Source:    source,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Status != dataset.StatusOK {
		return statusError(resp.Status, resp.Msg)
	}

	for _, rid := range resp.RecordIDs {
		fmt.Println(ids.EncodeID(rid))
	}
	return nil
}

func generateIDs(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")

	var resp dataset.GenerateIDResponse
	if err := rpcCall("/rpc/generate-id", dataset.GenerateIDRequest{Count: count}, &resp); err != nil {
		return err
	}
	if resp.Status != dataset.StatusOK {
		return statusError(resp.Status, resp.Msg)
	}

	for _, id := range resp.IDs {
		fmt.Println(ids.EncodeID(id))
	}
	return nil
}
