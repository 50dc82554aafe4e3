package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voiceid/internal/config"
	"github.com/xxxsen/voiceid/internal/embedcache"
	"github.com/xxxsen/voiceid/internal/extractor"
	"github.com/xxxsen/voiceid/internal/filestore"
	"github.com/xxxsen/voiceid/internal/hosted"
	"github.com/xxxsen/voiceid/internal/identify"
	"github.com/xxxsen/voiceid/internal/job"
	"github.com/xxxsen/voiceid/internal/model"
	"github.com/xxxsen/voiceid/internal/repo"
	"github.com/xxxsen/voiceid/internal/schedule"
	"github.com/xxxsen/voiceid/internal/service"
	"github.com/xxxsen/voiceid/internal/store"
)

// app wires the configured store, backends and services for one command
// invocation.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	episodeDB *sql.DB
	store     store.Store
	manager   *extractor.Manager
	engine    *identify.Engine
}

// setup loads config and opens the store. Embedding models are loaded
// only when the command needs them; store-only commands stay cheap.
func setup(configPath string, loadModels bool) (*app, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	a := &app{cfg: cfg, engine: identify.NewEngine(cfg.Threshold)}
	switch cfg.StoreMode {
	case "db":
		db, err := repo.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := repo.ApplyMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.db = db
		a.store = store.NewDBStore(db)
	case "snapshot":
		fs, err := filestore.New(cfg.Snapshot.FileStore)
		if err != nil {
			return nil, fmt.Errorf("init file store: %w", err)
		}
		snap, err := store.NewSnapshotStore(fs, cfg.Snapshot.Key)
		if err != nil {
			return nil, err
		}
		a.store = snap
	}
	a.manager, err = newManager(cfg, loadModels)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newManager(cfg *config.Config, loadModels bool) (*extractor.Manager, error) {
	if !loadModels {
		trimmed := *cfg
		trimmed.Backends = nil
		trimmed.Diarizer = config.DiarizerConfig{}
		return extractor.NewManager(&trimmed, nil, nil)
	}
	cacheTTL := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	newBackend := func(name string, bc config.BackendConfig) (extractor.Extractor, error) {
		ex, err := extractor.NewSherpaExtractor(name, bc)
		if err != nil {
			return nil, err
		}
		return embedcache.WrapLruCacheToExtractor(ex, cfg.Cache.Size, cacheTTL), nil
	}
	return extractor.NewManager(cfg, newBackend, extractor.NewSherpaDiarizer)
}

// openEpisodeDB opens the podcast application's database for harvest.
func (a *app) openEpisodeDB() (*repo.EpisodeSource, error) {
	if a.cfg.EpisodeDBPath == "" {
		return nil, fmt.Errorf("episode_db_path is required for this command")
	}
	if a.cfg.StoreMode == "db" && a.cfg.EpisodeDBPath == a.cfg.DBPath {
		return repo.NewEpisodeSource(a.db), nil
	}
	db, err := repo.Open(a.cfg.EpisodeDBPath)
	if err != nil {
		return nil, fmt.Errorf("open episode db: %w", err)
	}
	a.episodeDB = db
	return repo.NewEpisodeSource(db), nil
}

func (a *app) Close() {
	if a.manager != nil {
		a.manager.Close()
	}
	if a.episodeDB != nil {
		a.episodeDB.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) library() *service.LibraryService {
	return service.NewLibraryService(a.store, a.manager)
}

func main() {
	var (
		configPath string
		backend    string
	)

	rootCmd := &cobra.Command{
		Use:          "voiceid",
		Short:        "voice identity store and speaker identification",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "embedding backend (default from config)")

	var (
		speaker   string
		shortName string
		file      string
		date      string
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "enroll one audio sample for a speaker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if speaker == "" || file == "" {
				return fmt.Errorf("--speaker and --file are required")
			}
			a, err := setup(configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()
			sample, err := a.library().AddSpeaker(cmd.Context(), backend, speaker, shortName, file, date)
			if err != nil {
				return err
			}
			fmt.Printf("enrolled %s (sample %s)\n", speaker, sample.SampleKey[:12])
			return nil
		},
	}
	addCmd.Flags().StringVar(&speaker, "speaker", "", "speaker name")
	addCmd.Flags().StringVar(&shortName, "short-name", "", "display short name")
	addCmd.Flags().StringVar(&file, "file", "", "wav file to enroll")
	addCmd.Flags().StringVar(&date, "date", "", "sample date (YYYY-MM-DD)")

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "remove a speaker and all of their samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			if speaker == "" {
				return fmt.Errorf("--speaker is required")
			}
			a, err := setup(configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.library().RemoveSpeaker(cmd.Context(), backend, speaker); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", speaker)
			return nil
		},
	}
	removeCmd.Flags().StringVar(&speaker, "speaker", "", "speaker name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list enrolled speakers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			speakers, err := a.library().ListSpeakers(cmd.Context(), backend)
			if err != nil {
				return err
			}
			for _, sp := range speakers {
				fmt.Printf("%-30s %-10s samples=%d\n", sp.Name, sp.SampleType, sp.SampleCount)
			}
			fmt.Printf("%d speakers\n", len(speakers))
			return nil
		},
	}

	identifyCmd := &cobra.Command{
		Use:   "identify",
		Short: "diarize an audio file and identify its speakers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			a, err := setup(configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()
			svc := service.NewIdentifyService(a.store, a.manager, a.engine)
			res, err := svc.IdentifyEpisode(cmd.Context(), backend, file, date, func(percent int) {
				fmt.Printf("\rprogress: %d%%", percent)
			})
			fmt.Println()
			if err != nil {
				return err
			}
			for _, label := range res.Diarization.Speakers {
				id, ok := res.Identified[label]
				switch {
				case !ok:
					fmt.Printf("%-12s (no usable audio)\n", label)
				case id.Name == "":
					fmt.Printf("%-12s unmatched (best %.3f)\n", label, id.Confidence)
				default:
					fmt.Printf("%-12s %s (%.3f)\n", label, id.Name, id.Confidence)
				}
			}
			return nil
		},
	}
	identifyCmd.Flags().StringVar(&file, "file", "", "wav file to identify")
	identifyCmd.Flags().StringVar(&date, "date", "", "episode date (YYYY-MM-DD)")

	var episodeID int64
	harvestCmd := &cobra.Command{
		Use:   "harvest",
		Short: "enroll samples from reviewed episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()
			episodes, err := a.openEpisodeDB()
			if err != nil {
				return err
			}
			var only *int64
			if episodeID > 0 {
				only = &episodeID
			}
			svc := service.NewHarvestService(a.store, a.manager, episodes, a.cfg.Harvest)
			report, err := svc.Harvest(cmd.Context(), backend, only, func(done, total int) {
				fmt.Printf("\repisodes: %d/%d", done, total)
			})
			fmt.Println()
			if err != nil {
				return err
			}
			fmt.Printf("episodes=%d added=%d skipped=%d errors=%d\n",
				report.EpisodesProcessed, report.SamplesAdded, report.Skipped, report.Errors)
			return nil
		},
	}
	harvestCmd.Flags().Int64Var(&episodeID, "episode", 0, "harvest only this episode id")

	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "recompute every centroid from its raw samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.library().Rebuild(cmd.Context(), backend)
			if err != nil {
				return err
			}
			fmt.Printf("samples=%d groups=%d written=%d\n",
				report.SampleRows, report.GroupCount, report.CentroidsWritten)
			return nil
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "audit the library for integrity issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.library().Verify(cmd.Context(), backend)
			if err != nil {
				return err
			}
			for _, issue := range report.Issues {
				fmt.Printf("%-18s %-25s %s\n", issue.Kind, issue.Speaker, issue.Detail)
			}
			if report.OK() {
				fmt.Printf("ok: %d samples, %d centroids\n", report.SamplesSeen, report.CentroidsSeen)
				return nil
			}
			return fmt.Errorf("%d integrity issues", len(report.Issues))
		},
	}

	var outPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "export the library as a portable snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				return fmt.Errorf("--out is required")
			}
			a, err := setup(configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer out.Close()
			n, err := a.library().Export(cmd.Context(), backend, out)
			if err != nil {
				return err
			}
			fmt.Printf("exported %d speakers to %s\n", n, outPath)
			return nil
		},
	}
	exportCmd.Flags().StringVar(&outPath, "out", "", "snapshot output path")

	var (
		inPath  string
		replace bool
	)
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "import a snapshot into the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inPath == "" {
				return fmt.Errorf("--in is required")
			}
			a, err := setup(configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			in, err := os.Open(inPath)
			if err != nil {
				return err
			}
			defer in.Close()
			n, err := a.library().Import(cmd.Context(), backend, in, replace)
			if err != nil {
				return err
			}
			if replace {
				fmt.Printf("replaced library with %d speakers\n", n)
			} else {
				fmt.Printf("added %d new speakers\n", n)
			}
			return nil
		},
	}
	importCmd.Flags().StringVar(&inPath, "in", "", "snapshot input path")
	importCmd.Flags().BoolVar(&replace, "replace", false, "replace the whole library instead of merging")

	var backendB string
	compareCmd := &cobra.Command{
		Use:   "compare",
		Short: "identify one file under two backends side by side",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" || backend == "" || backendB == "" {
				return fmt.Errorf("--file, --backend and --backend-b are required")
			}
			a, err := setup(configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()
			svc := service.NewIdentifyService(a.store, a.manager, a.engine)
			rows, err := svc.Compare(cmd.Context(), backend, backendB, file, date)
			if err != nil {
				return err
			}
			agree := 0
			for _, row := range rows {
				mark := " "
				if row.Agree {
					mark = "="
					agree++
				}
				fmt.Printf("%-12s %s  %-25s %.3f | %-25s %.3f\n",
					row.Label, mark,
					orUnmatched(row.A), row.A.Confidence,
					orUnmatched(row.B), row.B.Confidence)
			}
			fmt.Printf("%d/%d labels agree\n", agree, len(rows))
			return nil
		},
	}
	compareCmd.Flags().StringVar(&file, "file", "", "wav file to identify")
	compareCmd.Flags().StringVar(&date, "date", "", "episode date (YYYY-MM-DD)")
	compareCmd.Flags().StringVar(&backendB, "backend-b", "", "second backend to compare against")

	hostedPushCmd := &cobra.Command{
		Use:   "hosted-push",
		Short: "push centroids to the hosted postgres table",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			name := backend
			if name == "" {
				name = a.manager.DefaultName()
			}
			if name == "" {
				return fmt.Errorf("--backend is required when no default is configured")
			}
			centroids, err := a.store.LoadCentroids(cmd.Context(), name)
			if err != nil {
				return err
			}
			if len(centroids) == 0 {
				return fmt.Errorf("no centroids to push for backend %s", name)
			}
			pusher, err := hosted.Open(a.cfg.Hosted.DSN, a.cfg.Hosted.Table)
			if err != nil {
				return err
			}
			defer pusher.Close()
			dim := 0
			for _, c := range centroids {
				dim = len(c.Centroid)
				break
			}
			if err := pusher.EnsureSchema(cmd.Context(), dim); err != nil {
				return err
			}
			n, err := pusher.Push(cmd.Context(), name, centroids)
			if err != nil {
				return err
			}
			fmt.Printf("pushed %d centroids\n", n)
			return nil
		},
	}

	maintainCmd := &cobra.Command{
		Use:   "maintain",
		Short: "run scheduled library maintenance until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			sched := schedule.NewCronScheduler()
			if err := sched.AddJob(job.NewVerifyJob(a.library(), backend), a.cfg.Maintain.CronSpec); err != nil {
				return err
			}
			sched.Start(ctx)
			logutil.GetLogger(ctx).Info("maintenance running",
				zap.String("cron", a.cfg.Maintain.CronSpec))
			<-ctx.Done()
			sched.Stop()
			return nil
		},
	}

	rootCmd.AddCommand(addCmd, removeCmd, listCmd, identifyCmd, harvestCmd,
		rebuildCmd, verifyCmd, exportCmd, importCmd, compareCmd,
		hostedPushCmd, maintainCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func orUnmatched(id model.IdentifiedSpeaker) string {
	if id.Name == "" {
		return "(unmatched)"
	}
	return id.Name
}
