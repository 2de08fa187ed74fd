// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - LimiterStore: token bucket por chave usando golang.org/x/time/rate
//   - NewSlotPool: semáforo simples para limitar downloads simultâneos
//   - HTTPStore: content store HTTP (descritores JSON + documentos de bundle)
//   - SceneInstantiator: materializa o grafo decodificado em objetos vivos
//   - MemoryStatsStore / RedisStatsStore: contadores de carga, hit e despejo
package infra
