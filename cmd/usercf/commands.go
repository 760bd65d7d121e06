// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/gorse-io/usercf/base/log"
	"github.com/gorse-io/usercf/config"
	"github.com/gorse-io/usercf/dataset"
	"github.com/gorse-io/usercf/model/usercf"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func init() {
	for _, command := range []*cobra.Command{fitCommand, recommendCommand, neighborsCommand, popularCommand} {
		addModelFlags(command.Flags())
		rootCommand.AddCommand(command)
	}
	fitCommand.Flags().StringP("output", "o", "", "path to write the model snapshot")
	recommendCommand.Flags().StringP("user", "u", "", "user id")
	recommendCommand.Flags().IntP("n", "n", 10, "number of recommended items")
	recommendCommand.Flags().Bool("exclude-seen", true, "exclude items the user interacted with")
	neighborsCommand.Flags().StringP("user", "u", "", "user id")
	popularCommand.Flags().IntP("n", "n", 10, "number of popular items")
	rootCommand.AddCommand(configCommand)
}

func addModelFlags(flagSet *pflag.FlagSet) {
	flagSet.StringSlice("data", nil, "interaction files fitted in a full pass")
	flagSet.StringSlice("incremental", nil, "interaction files applied after fit as incremental updates")
	flagSet.String("snapshot", "", "load a model snapshot instead of fitting")
	flagSet.String("sep", ",", "field separator of interaction files")
	flagSet.Bool("header", false, "interaction files have a header line")
}

var fitCommand = &cobra.Command{
	Use:   "fit",
	Short: "Fit a model and optionally save a snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		model, err := loadModel(ctx, cmd)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			return nil
		}
		file, err := os.Create(output)
		if err != nil {
			return errors.Trace(err)
		}
		defer file.Close()
		writer := bufio.NewWriter(file)
		if err = model.Marshal(writer); err != nil {
			return errors.Trace(err)
		}
		if err = writer.Flush(); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("save snapshot", zap.String("path", output))
		return nil
	},
}

var recommendCommand = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend items for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		model, err := loadModel(ctx, cmd)
		if err != nil {
			return err
		}
		userId, _ := cmd.Flags().GetString("user")
		n, _ := cmd.Flags().GetInt("n")
		excludeSeen, _ := cmd.Flags().GetBool("exclude-seen")
		items, err := model.Recommend(userId, n, excludeSeen)
		if err != nil {
			return errors.Trace(err)
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("rank", "item", "score")
		rank := 0
		for itemId, score := range items {
			rank++
			if err = table.Append(rank, itemId, fmt.Sprintf("%.4f", score)); err != nil {
				return errors.Trace(err)
			}
		}
		if rank == 0 {
			log.Logger().Warn("no neighbor data, fall back to popular items", zap.String("user_id", userId))
			return renderPopular(model, n)
		}
		return errors.Trace(table.Render())
	},
}

var neighborsCommand = &cobra.Command{
	Use:   "neighbors",
	Short: "Show the most similar users of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		model, err := loadModel(ctx, cmd)
		if err != nil {
			return err
		}
		userId, _ := cmd.Flags().GetString("user")
		neighbors, err := model.Neighbors(userId)
		if err != nil {
			return errors.Trace(err)
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("rank", "user", "similarity")
		for i, neighbor := range neighbors {
			if err = table.Append(i+1, neighbor.UserId, fmt.Sprintf("%.4f", neighbor.Score)); err != nil {
				return errors.Trace(err)
			}
		}
		return errors.Trace(table.Render())
	},
}

var popularCommand = &cobra.Command{
	Use:   "popular",
	Short: "Show items with the most users",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		model, err := loadModel(ctx, cmd)
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("n")
		return renderPopular(model, n)
	},
}

var configCommand = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		conf, err := config.LoadConfig(configPath)
		if err != nil {
			return errors.Trace(err)
		}
		settings, err := conf.Settings()
		if err != nil {
			return errors.Trace(err)
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("key", "value")
		for _, setting := range settings {
			if err = table.Append(setting.Key, fmt.Sprint(setting.Value)); err != nil {
				return errors.Trace(err)
			}
		}
		return errors.Trace(table.Render())
	},
}

func renderPopular(model *usercf.UserCF, n int) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("rank", "item", "users")
	for i, item := range model.Store().PopularItems(n) {
		if err := table.Append(i+1, item.ItemId, item.Count); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

// loadModel restores a snapshot or fits interaction files, then applies
// incremental files batch by batch.
func loadModel(ctx context.Context, cmd *cobra.Command) (*usercf.UserCF, error) {
	var (
		model *usercf.UserCF
		err   error
	)
	opts, err := csvOptions(cmd.Flags())
	if err != nil {
		return nil, errors.Trace(err)
	}
	if snapshotPath, _ := cmd.Flags().GetString("snapshot"); snapshotPath != "" {
		if model, err = readSnapshot(snapshotPath); err != nil {
			return nil, errors.Trace(err)
		}
	} else {
		configPath, _ := cmd.Flags().GetString("config")
		log.Logger().Info("load config", zap.String("config", configPath))
		conf, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if model, err = usercf.NewUserCF(conf); err != nil {
			return nil, errors.Trace(err)
		}
		dataPaths, _ := cmd.Flags().GetStringSlice("data")
		for _, path := range dataPaths {
			interactions, err := readInteractions(path, opts)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if err = model.AddInteractions(interactions); err != nil {
				return nil, errors.Annotatef(err, "load %s", path)
			}
		}
		if err = model.Fit(ctx); err != nil {
			return nil, errors.Trace(err)
		}
	}
	incrementalPaths, _ := cmd.Flags().GetStringSlice("incremental")
	for _, path := range incrementalPaths {
		interactions, err := readInteractions(path, opts)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err = model.AddInteractions(interactions); err != nil {
			return nil, errors.Annotatef(err, "apply %s", path)
		}
		n, err := model.RefreshDirty(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		log.Logger().Info("apply incremental interactions",
			zap.String("path", path),
			zap.Int("n_interactions", len(interactions)),
			zap.Int("n_refreshed_users", n))
	}
	return model, nil
}

func csvOptions(flagSet *pflag.FlagSet) (dataset.CSVOptions, error) {
	sep, _ := flagSet.GetString("sep")
	header, _ := flagSet.GetBool("header")
	if sep == `\t` {
		sep = "\t"
	}
	runes := []rune(sep)
	if len(runes) != 1 {
		return dataset.CSVOptions{}, errors.NotValidf("separator %q", sep)
	}
	return dataset.CSVOptions{Sep: runes[0], Header: header}, nil
}

func readInteractions(path string, opts dataset.CSVOptions) ([]dataset.Interaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return nil, errors.Trace(err)
	}
	bar := progressbar.DefaultBytes(stat.Size(), "Loading "+path)
	reader := progressbar.NewReader(file, bar)
	interactions, err := dataset.LoadCSV(&reader, opts)
	if err != nil {
		return nil, errors.Annotatef(err, "read %s", path)
	}
	_ = bar.Finish()
	log.Logger().Info("load interactions", zap.String("path", path), zap.Int("n_interactions", len(interactions)))
	return interactions, nil
}

func readSnapshot(path string) (*usercf.UserCF, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return nil, errors.Trace(err)
	}
	bar := progressbar.DefaultBytes(stat.Size(), "Loading snapshot")
	var reader io.Reader = bufio.NewReader(io.TeeReader(file, bar))
	model, err := usercf.Unmarshal(reader)
	if err != nil {
		return nil, errors.Annotatef(err, "read snapshot %s", path)
	}
	_ = bar.Finish()
	log.Logger().Info("load snapshot", zap.String("path", path),
		zap.Int32("n_users", model.Store().CountUsers()),
		zap.Int("n_dirty_users", model.DirtyUsers()))
	return model, nil
}
