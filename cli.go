package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	statex "github.com/tanpawarit/chative-tutor/agent/state"
	toolx "github.com/tanpawarit/chative-tutor/agent/tool"
	configx "github.com/tanpawarit/chative-tutor/pkg/config"
	logx "github.com/tanpawarit/chative-tutor/pkg/logger"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "tutor",
	Short: "Tutor chatbot with tool calling and conversational memory",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		configx.UseEnvFile(envFile)
		logx.Init(*configx.MustNew[logx.Config]("LOG"))
	},
	SilenceUsage: true,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the tutor on stdin",
	RunE:  runChat,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the known models per backend",
	RunE:  runModels,
}

var resetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Forget the history of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Print logged turns of a session from Postgres",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var importGradesCmd = &cobra.Command{
	Use:   "import-grades <file.yaml>",
	Short: "Load grade records into Postgres",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportGrades,
}

var (
	sessionID    string
	historyLimit int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to .env file")
	chatCmd.Flags().StringVar(&sessionID, "session", "", "session id to resume (default: new session)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "max turns to print")

	rootCmd.AddCommand(chatCmd, modelsCmd, resetCmd, historyCmd, importGradesCmd)
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	id := strings.TrimSpace(sessionID)
	if id == "" {
		id = uuid.NewString()
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s (/reset to forget, /quit to leave)\n", id)

	return chatLoop(ctx, cmd.InOrStdin(), out, id, a)
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, id string, a *app) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := a.orchestrator.ResetSession(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(out, "history cleared")
			continue
		}

		reply, err := a.orchestrator.HandleMessage(ctx, id, line)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil && reply.Text == "":
			log.Error().Err(err).Str("session_id", id).Msg("turn failed")
			continue
		}
		fmt.Fprintln(out, reply.Text)
	}
}

func runModels(cmd *cobra.Command, args []string) error {
	_, provCfg, catalog, err := resolveModel(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tMODEL\tNAME\t")
	for _, backend := range catalog.Backends() {
		for _, m := range catalog.Models(backend) {
			marker := ""
			if backend == provCfg.Backend && m.ID == provCfg.Model {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", backend, m.ID, m.Name, marker)
		}
	}
	return w.Flush()
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, err := sessionManager(ctx, nil)
	if err != nil {
		return err
	}
	if err := mgr.Reset(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %s reset\n", args[0])
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := requirePostgres(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	turns, err := statex.NewPgTurnLog(db).Turns(ctx, args[0], historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, t := range turns {
		fmt.Fprintf(out, "#%d %s\n  student: %s\n  tutor:   %s\n", t.ID, t.Timestamp.Format("2006-01-02 15:04:05"), t.Content, t.Answer)
		for i, c := range t.Calls {
			status := "ok"
			if i < len(t.Results) && !t.Results[i].Success {
				status = string(t.Results[i].ErrorKind)
			}
			fmt.Fprintf(out, "  tool %s (%s)\n", c.Tool, status)
		}
	}
	return nil
}

func runImportGrades(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	grades, err := toolx.DecodeGrades(f)
	if err != nil {
		return err
	}

	db, err := requirePostgres(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	book := statex.NewPgGradeBook(db)
	for _, g := range grades {
		if err := book.Put(ctx, g); err != nil {
			return fmt.Errorf("import %s/%s: %w", g.StudentID, g.Course, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d grades\n", len(grades))
	return nil
}
