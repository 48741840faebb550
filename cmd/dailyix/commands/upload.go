package commands

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dailyix/ixgest/tabular"
	"github.com/teranos/dailyix/uploads"
)

// UploadCmd represents the upload command
var UploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Register files for background processing",
	Long: `Register a file as an upload and enqueue its processing job.

An upload row tracks the file from pending through processing to
completed or failed, independently of the job that processes it.`,
}

var (
	uploadType       string
	uploadImportType string
	uploadUserEmail  string
	uploadStatus     string
	uploadLimit      int
)

var uploadAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Register a file and enqueue it",
	Args:  cobra.ExactArgs(1),
	RunE:  runUploadAdd,
}

var uploadListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List uploads",
	RunE:    runUploadList,
}

func init() {
	uploadAddCmd.Flags().StringVar(&uploadType, "type", string(tabular.FileTypeDailies), "File type: dailies or daily_health_pillars")
	uploadAddCmd.Flags().StringVar(&uploadImportType, "import-type", uploads.ImportTypeImport, "Import type: import or update")
	uploadAddCmd.Flags().StringVar(&uploadUserEmail, "user-email", "", "Who uploaded the file")
	uploadListCmd.Flags().StringVar(&uploadStatus, "status", "", "Filter by status (pending, processing, completed, failed)")
	uploadListCmd.Flags().StringVar(&uploadUserEmail, "user-email", "", "Filter by uploader")
	uploadListCmd.Flags().IntVar(&uploadLimit, "limit", 20, "Maximum number of uploads to list")

	UploadCmd.AddCommand(uploadAddCmd)
	UploadCmd.AddCommand(uploadListCmd)
}

func runUploadAdd(cmd *cobra.Command, args []string) error {
	kind, err := tabular.ParseFileType(uploadType)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	source := args[0]
	if !tabular.IsRemote(source) {
		if abs, err := filepath.Abs(source); err == nil {
			source = abs
		}
	}

	u := &uploads.Upload{
		Source:     source,
		FileType:   kind,
		ImportType: uploadImportType,
		UserEmail:  uploadUserEmail,
	}
	if err := a.uploads.Create(context.Background(), u); err != nil {
		return err
	}
	receipt, err := a.orchestrator.EnqueueUpload(u)
	if err != nil {
		return err
	}

	if JSONOutput {
		return printJSON(map[string]interface{}{"upload": u, "job": receipt})
	}
	pterm.Success.Printf("Upload %d (%s) enqueued as job %s\n", u.ID, u.Filename, receipt.JobID)
	return nil
}

func runUploadList(cmd *cobra.Command, args []string) error {
	filter := uploads.Filter{UserEmail: uploadUserEmail}
	if uploadStatus != "" {
		st, err := uploads.ParseStatus(uploadStatus)
		if err != nil {
			return err
		}
		filter.Status = st
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.uploads.List(context.Background(), filter, uploadLimit)
	if err != nil {
		return err
	}
	if JSONOutput {
		return printJSON(list)
	}
	if len(list) == 0 {
		pterm.Info.Println("No uploads")
		return nil
	}

	data := pterm.TableData{{"ID", "File", "Type", "Status", "Job", "Error", "Created"}}
	for _, u := range list {
		data = append(data, []string{
			strconv.FormatInt(u.ID, 10),
			truncate(u.Filename, 30),
			string(u.FileType),
			string(u.Status),
			u.JobID,
			truncate(u.ErrorMessage, 40),
			u.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
