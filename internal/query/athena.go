// internal/query/athena.go
package query

import (
	"context"
	"log"

	"thermo-pipeline/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
)

// AthenaService 는 Service 계약의 Athena 구현이다.
// 실행 컨텍스트(database / workgroup / output location)는 생성 시점에
// 고정되고, 실행 id 단위 호출만 노출한다.
type AthenaService struct {
	client *athena.Client

	database       string
	workgroup      string
	outputLocation string
}

// NewAthenaService 는 AWS SDK Config를 초기화하고 Athena client를 생성한다.
// S3 writer 와 동일하게 실패 시 fail-fast.
func NewAthenaService(cfg config.Query) *AthenaService {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(
		context.TODO(),
		awsCfgLib.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		log.Fatalf("[FATAL] failed to load AWS config: %v", err)
	}

	return &AthenaService{
		client:         athena.NewFromConfig(awsCfg),
		database:       cfg.Database,
		workgroup:      cfg.Workgroup,
		outputLocation: cfg.OutputLocation,
	}
}

// Submit 은 StartQueryExecution 1회 호출이다.
func (a *AthenaService) Submit(ctx context.Context, sql string) (string, error) {
	in := &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: aws.String(a.database),
		},
		ResultConfiguration: &types.ResultConfiguration{
			OutputLocation: aws.String(a.outputLocation),
		},
	}
	if a.workgroup != "" {
		in.WorkGroup = aws.String(a.workgroup)
	}

	out, err := a.client.StartQueryExecution(ctx, in)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.QueryExecutionId), nil
}

// Poll 은 GetQueryExecution 1회 호출이다.
// Athena 상태 문자열(QUEUED/RUNNING/SUCCEEDED/FAILED/CANCELLED)을
// 그대로 State 로 매핑한다.
func (a *AthenaService) Poll(ctx context.Context, executionID string) (Status, error) {
	out, err := a.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(executionID),
	})
	if err != nil {
		return Status{}, err
	}

	st := Status{}
	if out.QueryExecution != nil && out.QueryExecution.Status != nil {
		st.State = State(out.QueryExecution.Status.State)
		st.Reason = aws.ToString(out.QueryExecution.Status.StateChangeReason)
	}
	return st, nil
}

// Fetch 는 GetQueryResults 를 NextToken 으로 끝까지 페이지네이션한다.
// Athena 는 첫 페이지 첫 행에 컬럼명 헤더를 포함하는데, 그대로 반환한다 —
// 헤더 제거는 orchestrator 의 책임이다.
// null 셀(VarCharValue == nil)은 빈 문자열로 평탄화한다.
func (a *AthenaService) Fetch(ctx context.Context, executionID string) ([][]string, error) {
	var rows [][]string
	var next *string

	for {
		out, err := a.client.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: aws.String(executionID),
			NextToken:        next,
		})
		if err != nil {
			return nil, err
		}

		if out.ResultSet != nil {
			for _, r := range out.ResultSet.Rows {
				cells := make([]string, 0, len(r.Data))
				for _, d := range r.Data {
					cells = append(cells, aws.ToString(d.VarCharValue))
				}
				rows = append(rows, cells)
			}
		}

		if out.NextToken == nil {
			return rows, nil
		}
		next = out.NextToken
	}
}
