// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain. Exemplos:
//
//   - WindowStore: tabela em memória de janelas por (chave, categoria), com varredura e janitor
//   - SlotPool: semáforo em channel para o limite de requisições em execução
//   - MemoryStatsStore, RedisStatsStore, PrometheusStatsStore, MultiStats: estatísticas das decisões
package infra
