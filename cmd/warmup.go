package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	jobctrl "agentrag/src/infrastructure/job"
	"agentrag/src/log"
)

// defaultQuestions is the reference evaluation set used to warm the cache.
var defaultQuestions = []string{
	"Quelle est l'histoire de l'entreprise Givaudan ?",
	"Quels sont les principaux types d'ingrédients utilisés dans les parfums ?",
	"Quelle est la différence entre les ingrédients naturels et synthétiques ?",
	"Comment se déroule le processus de création d'un parfum ?",
	"Quels sont les métiers clés chez Givaudan ?",
	"Quelles sont les tendances actuelles dans l'industrie des arômes ?",
	"Comment Givaudan assure-t-elle la durabilité de ses ingrédients ?",
	"Qu'est-ce qu'une note de tête, de cœur et de fond dans un parfum ?",
	"Quels sont les principaux marchés de Givaudan ?",
	"Comment fonctionne la pyramide olfactive ?",
}

var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Answer a batch of questions to fill the semantic cache",
	Long: `warmup resolves a list of questions through the full pipeline. With --enqueue
the batch is published to the job queue and answered by the worker instead.`,
	RunE: runWarmup,
}

func init() {
	rootCmd.AddCommand(warmupCmd)
	warmupCmd.Flags().StringP("file", "f", "", "file with one question per line (defaults to the built-in set)")
	warmupCmd.Flags().StringP("report", "o", "", "write the JSON report to this path")
	warmupCmd.Flags().Bool("fast", false, "skip cross-encoder reranking")
	warmupCmd.Flags().Bool("enqueue", false, "publish the batch as a job for the worker")
}

func runWarmup(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	reportPath, _ := cmd.Flags().GetString("report")
	fast, _ := cmd.Flags().GetBool("fast")
	enqueue, _ := cmd.Flags().GetBool("enqueue")

	questions := defaultQuestions
	if file != "" {
		var err error
		if questions, err = readQuestions(file); err != nil {
			return err
		}
	}
	payload := jobctrl.BatchPayload{Questions: questions, FastMode: fast}

	if enqueue {
		return enqueueBatch(cmd, payload)
	}

	p, err := buildPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	bar := progressbar.NewOptions(len(questions),
		progressbar.OptionSetDescription("warming cache"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	task := jobctrl.NewBatchTask(p.orchestrator, nil, "")
	report, err := task.Run(cmd.Context(), 0, payload, func(done int) { _ = bar.Set(done) })
	_ = bar.Finish()
	if err != nil {
		return err
	}

	log.Info("warmup finished",
		"questions", len(report.Items),
		"cache_hits", report.CacheHits,
		"failures", report.Failures,
		"duration", report.FinishedAt.Sub(report.StartedAt).String())

	if reportPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(reportPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	return nil
}

func enqueueBatch(cmd *cobra.Command, payload jobctrl.BatchPayload) error {
	db, err := openJobDB()
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	repo, err := jobctrl.NewGormJobRepository(db)
	if err != nil {
		return err
	}

	publisher, err := amqp.NewPublisher(
		amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		log.Watermill("amqp-publisher"),
	)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	defer publisher.Close()

	svc := jobctrl.NewJobService(publisher, repo, log.Watermill("jobs"), nil)
	job, err := svc.EnqueueBatch(cmd.Context(), payload)
	if err != nil {
		return err
	}
	log.Info("batch enqueued", "job_id", job.ID, "questions", len(payload.Questions))
	return nil
}

func readQuestions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var questions []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("no questions in %s", path)
	}
	return questions, nil
}
