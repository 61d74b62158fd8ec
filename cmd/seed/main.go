package main

import (
	"flag"
	"log/slog"
	"math/rand"
	"os"

	"github.com/sysu-ecnc-dev/dkn/backend/internal/config"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/domain"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/permission"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/repository"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/scoring"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/seed"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/stats"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/utils"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/workflow"
)

func main() {
	var op int
	var n int
	var file string

	flag.IntVar(&op, "op", 0, "要执行的操作 (1: 插入随机用户, 2: 插入随机知识资源, 3: 随机审批待审资源, 4: 从 CSV 导入知识资源, 5: 随机生成 AI 分析)")
	flag.IntVar(&n, "n", 5, "要插入的记录数量")
	flag.StringVar(&file, "file", "", "要导入的 CSV 文件路径")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// 读取配置文件
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法读取配置文件", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 连接数据库
	dbpool, err := repository.OpenDB(cfg)
	if err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}
	defer dbpool.Close()

	// 创建 repository 和 service，种子数据与 API 走同样的业务规则
	repo := repository.NewRepository(cfg, dbpool)
	aggregator := stats.NewAggregator(repo)
	svc := workflow.NewService(repo, aggregator, nil, nil)

	// 执行操作
	switch op {
	case 0:
		slog.Error("未指定操作")
	case 1:
		if n <= 0 {
			slog.Error("请输入合法的用户数量")
		} else {
			cnt := n
			for i := 0; i < n; i++ {
				user, err := utils.GenerateRandomUser(cfg.Seed.User.Password, cfg.Email.UserDomain)
				if err != nil {
					slog.Error("无法生成随机用户", slog.String("error", err.Error()))
					continue
				}

				if err := repo.CreateUser(user); err != nil {
					slog.Error("无法插入用户", slog.String("error", err.Error()))
					continue
				}

				cnt--
			}

			if _, err := aggregator.RefreshPlatform(); err != nil {
				slog.Error("无法刷新平台统计", slog.String("error", err.Error()))
			}
			slog.Info("插入用户成功", slog.Int("count", n-cnt))
		}
	case 2:
		if n <= 0 {
			slog.Error("请输入合法的知识资源数量")
			return
		}

		authors, err := usersWhere(repo, permission.CanCreateKnowledge)
		if err != nil {
			slog.Error("无法获取用户", slog.String("error", err.Error()))
			return
		}
		if len(authors) == 0 {
			slog.Error("没有可以创建知识资源的用户，请先插入用户")
			return
		}

		cnt := 0
		for i := 0; i < n; i++ {
			author := authors[rand.Intn(len(authors))]
			heading, body, classification, rating, keywords := utils.GenerateRandomKnowledge()

			_, err := svc.Create(actorOf(author), workflow.NewKnowledge{
				Heading:        heading,
				DataBody:       body,
				Classification: classification,
				UserRating:     &rating,
				Keywords:       keywords,
			})
			if err != nil {
				slog.Error("无法插入知识资源", slog.String("error", err.Error()))
				continue
			}

			cnt++
		}

		slog.Info("插入知识资源成功", slog.Int("count", cnt))
	case 3:
		approvers, err := usersWhere(repo, permission.CanApprove)
		if err != nil {
			slog.Error("无法获取用户", slog.String("error", err.Error()))
			return
		}
		authorizers, err := usersWhere(repo, permission.CanAuthorize)
		if err != nil {
			slog.Error("无法获取用户", slog.String("error", err.Error()))
			return
		}
		if len(approvers) == 0 || len(authorizers) == 0 {
			slog.Error("缺少可以审批的用户，请先插入用户")
			return
		}

		// 获取所有待审批的资源
		page, err := listResources(repo, domain.StatePending, n)
		if err != nil {
			slog.Error("无法获取待审批资源", slog.String("error", err.Error()))
			return
		}

		approved, rejected, authorized := 0, 0, 0
		for _, k := range page {
			approver := actorOf(approvers[rand.Intn(len(approvers))])

			// 大约四分之一的资源被驳回
			if rand.Intn(4) == 0 {
				if _, _, err := svc.Reject(approver, k.ID, ""); err != nil {
					slog.Error("无法驳回资源", slog.Int64("id", k.ID), slog.String("error", err.Error()))
					continue
				}
				rejected++
				continue
			}

			if _, err := svc.Approve(approver, k.ID); err != nil {
				slog.Error("无法批准资源", slog.Int64("id", k.ID), slog.String("error", err.Error()))
				continue
			}
			approved++

			if rand.Intn(2) == 0 {
				authorizer := actorOf(authorizers[rand.Intn(len(authorizers))])
				if _, err := svc.Authorize(authorizer, k.ID); err != nil {
					slog.Error("无法授权资源", slog.Int64("id", k.ID), slog.String("error", err.Error()))
					continue
				}
				authorized++
			}
		}

		slog.Info("审批完成", slog.Int("approved", approved), slog.Int("rejected", rejected), slog.Int("authorized", authorized))
	case 4:
		if file == "" {
			slog.Error("请通过 -file 指定 CSV 文件")
			return
		}

		f, err := os.Open(file)
		if err != nil {
			slog.Error("无法打开文件", slog.String("error", err.Error()))
			return
		}
		defer f.Close()

		if _, err := seed.ImportKnowledge(f, repo, svc); err != nil {
			slog.Error("导入失败", slog.String("error", err.Error()))
		}
	case 5:
		analyzer := scoring.NewAnalyzer(repo, scoring.MockScorer{}, nil)

		resources, err := listResources(repo, "", n)
		if err != nil {
			slog.Error("无法获取知识资源", slog.String("error", err.Error()))
			return
		}

		created := 0
		for _, k := range resources {
			_, ok, err := analyzer.Analyze(k.ID)
			if err != nil {
				slog.Error("无法分析资源", slog.Int64("id", k.ID), slog.String("error", err.Error()))
				continue
			}
			if ok {
				created++
			}
		}

		slog.Info("生成 AI 分析成功", slog.Int("count", created))
	default:
		slog.Error("指定的操作非法")
	}
}

func actorOf(u *domain.User) workflow.Actor {
	return workflow.Actor{UserID: u.ID, Role: u.Role}
}

func usersWhere(repo *repository.Repository, allowed func(domain.Role) bool) ([]*domain.User, error) {
	users, err := repo.GetAllUsers()
	if err != nil {
		return nil, err
	}

	matched := []*domain.User{}
	for _, u := range users {
		if allowed(u.Role) {
			matched = append(matched, u)
		}
	}
	return matched, nil
}

func listResources(repo *repository.Repository, state domain.ApprovalState, limit int) ([]*domain.KnowledgeResource, error) {
	if limit <= 0 || limit > workflow.MaxPageLimit {
		limit = workflow.MaxPageLimit
	}

	resources, _, err := repo.ListKnowledge(domain.KnowledgeFilter{
		ApprovalState: state,
		Page:          1,
		Limit:         limit,
		Visibility:    domain.Visibility{All: true},
	})
	return resources, err
}
